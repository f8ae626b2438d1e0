package app

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/icanbwell/credcache/pkg/configcache"
	"github.com/icanbwell/credcache/pkg/settings"
)

var configShowFormat string

func newConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the model configuration sources",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Load and print the resolved model configuration list",
		Long: `Load the model configuration list from the configured sources
(primary, testing, backup) and print the result after disabled-entry
filtering, exactly as the cache would serve it.`,
		RunE: configShowCmdFunc,
	}
	showCmd.Flags().StringVar(&configShowFormat, "format", FormatText, "Output format (json or text)")

	configCmd.AddCommand(showCmd)
	return configCmd
}

func configShowCmdFunc(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	s, err := settings.Load()
	if err != nil {
		return fmt.Errorf("failed to load settings: %v", err)
	}

	load, err := s.ConfigLoader()
	if err != nil {
		return err
	}

	// TTL zero: the CLI always wants a fresh read.
	cache := configcache.New(load, 0)
	configs, err := cache.GetConfigs(ctx)
	if err != nil {
		return fmt.Errorf("failed to load model configurations: %v", err)
	}

	if len(configs) == 0 {
		fmt.Println("No model configurations found")
		return nil
	}

	if configShowFormat == FormatJSON {
		jsonData, err := json.MarshalIndent(configs, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %v", err)
		}
		fmt.Println(string(jsonData))
		return nil
	}

	printConfigsText(configs)
	return nil
}

func printConfigsText(configs []configcache.ModelConfig) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTYPE\tPROVIDER\tMODEL")
	for _, c := range configs {
		provider, model := "-", "-"
		if c.Model != nil {
			provider, model = c.Model.Provider, c.Model.Model
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.ID, c.Name, c.Type, provider, model)
	}
	if err := w.Flush(); err != nil {
		fmt.Printf("Warning: error flushing output: %v\n", err)
	}
}
