package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"firestige.xyz/chronicle/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load a configuration file, apply defaults and environment overrides, and
check it without capturing anything.

Examples:
  chronicle validate -c chronicle.yml
  chronicle validate -c chronicle.yml --print`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(configFile, validatePrint, cmd.OutOrStdout())
	},
}

var validatePrint bool

func init() {
	validateCmd.Flags().BoolVar(&validatePrint, "print", false,
		"print the effective configuration as YAML")
}

func runValidate(path string, print bool, out io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}

	if print {
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(map[string]*config.GlobalConfig{"chronicle": cfg}); err != nil {
			return fmt.Errorf("failed to render config: %w", err)
		}
		return enc.Close()
	}

	sinks := make([]string, len(cfg.Sinks))
	for i, s := range cfg.Sinks {
		sinks[i] = s.Type
	}
	fmt.Fprintf(out, "VALID: capture=%s shards=%d sinks=%s\n",
		cfg.Capture.Type, cfg.Pipeline.Shards, strings.Join(sinks, ","))
	return nil
}
