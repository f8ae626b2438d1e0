// Package configcache caches the model configuration list with a TTL and
// single-flight reloads, so that N concurrent requests racing on an expired
// cache trigger exactly one loader call.
package configcache

// ModelRef names the upstream provider and model an entry routes to.
type ModelRef struct {
	Provider string `json:"provider" yaml:"provider"`
	Model    string `json:"model" yaml:"model"`
}

// Parameter is one key/value tuning knob passed through to the provider.
type Parameter struct {
	Key   string `json:"key" yaml:"key"`
	Value any    `json:"value" yaml:"value"`
}

// ModelConfig is one entry of the model configuration list.
type ModelConfig struct {
	// ID uniquely identifies the entry.
	ID string `json:"id" yaml:"id"`

	// Name is the display name entries are sorted by.
	Name string `json:"name" yaml:"name"`

	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Type selects the handler for the entry. Defaults to "langchain"
	// when absent, matching the deployed config files.
	Type string `json:"type,omitempty" yaml:"type,omitempty"`

	Owner string `json:"owner,omitempty" yaml:"owner,omitempty"`

	// URL overrides where the model is reached, when set.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// Disabled entries are dropped after load; they never reach callers.
	Disabled bool `json:"disabled,omitempty" yaml:"disabled,omitempty"`

	Model *ModelRef `json:"model,omitempty" yaml:"model,omitempty"`

	ModelParameters []Parameter `json:"model_parameters,omitempty" yaml:"model_parameters,omitempty"`
}

// filterDisabled drops entries marked disabled. The returned slice is a new
// one; the input is never mutated.
func filterDisabled(configs []ModelConfig) []ModelConfig {
	enabled := make([]ModelConfig, 0, len(configs))
	for _, c := range configs {
		if c.Disabled {
			continue
		}
		enabled = append(enabled, c)
	}
	return enabled
}
