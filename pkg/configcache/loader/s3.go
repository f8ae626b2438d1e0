package loader

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/icanbwell/credcache/pkg/configcache"
	"github.com/icanbwell/credcache/pkg/logger"
)

// S3API is the slice of the S3 client the loader uses. *s3.Client
// satisfies it.
type S3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Option configures the S3 loader.
type S3Option func(*s3Loader)

// WithS3Client overrides the S3 client, bypassing the default AWS
// credential chain.
func WithS3Client(client S3API) S3Option {
	return func(l *s3Loader) {
		l.client = client
	}
}

type s3Loader struct {
	url    string
	client S3API
}

// S3 loads every JSON/YAML config object under an s3://bucket/prefix URL.
// Credentials come from the default AWS chain unless a client is injected.
func S3(s3URL string, opts ...S3Option) configcache.Loader {
	l := &s3Loader{url: s3URL}
	for _, opt := range opts {
		opt(l)
	}
	return l.load
}

// ParseS3URL splits an s3://bucket/prefix URL into bucket and prefix.
func ParseS3URL(s3URL string) (bucket, prefix string, err error) {
	parsed, err := url.Parse(s3URL)
	if err != nil {
		return "", "", fmt.Errorf("invalid S3 URL: %w", err)
	}
	if parsed.Scheme != "s3" {
		return "", "", fmt.Errorf("invalid S3 URL scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", "", fmt.Errorf("S3 URL %q has no bucket", s3URL)
	}
	return parsed.Host, strings.TrimPrefix(parsed.Path, "/"), nil
}

func (l *s3Loader) load(ctx context.Context) ([]configcache.ModelConfig, error) {
	bucket, prefix, err := ParseS3URL(l.url)
	if err != nil {
		return nil, err
	}

	client := l.client
	if client == nil {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		client = s3.NewFromConfig(awsCfg)
	}

	var configs []configcache.ModelConfig
	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: &bucket,
		Prefix: &prefix,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing s3://%s/%s: %w", bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil || !isConfigFile(*obj.Key) {
				continue
			}
			objConfigs, err := l.readObject(ctx, client, bucket, *obj.Key)
			if err != nil {
				return nil, err
			}
			configs = append(configs, objConfigs...)
		}
	}

	sort.Slice(configs, func(i, j int) bool { return configs[i].Name < configs[j].Name })
	logger.Debugw("loaded model configs from S3", "bucket", bucket, "prefix", prefix, "count", len(configs))
	return configs, nil
}

func (*s3Loader) readObject(ctx context.Context, client S3API, bucket, key string) ([]configcache.ModelConfig, error) {
	out, err := client.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		return nil, fmt.Errorf("reading s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, maxConfigBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading s3://%s/%s body: %w", bucket, key, err)
	}

	configs, err := decodeConfigs(data, strings.HasSuffix(key, ".json"))
	if err != nil {
		return nil, fmt.Errorf("parsing s3://%s/%s: %w", bucket, key, err)
	}
	return configs, nil
}
