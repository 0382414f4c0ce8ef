package commands

import (
	"github.com/nexconsult/malha-fiscal/internal/config"
	"github.com/spf13/cobra"
)

// overrides are the flags shared by commands that touch the portal or the
// artifact tree. Unset flags leave the environment configuration alone.
type overrides struct {
	input     string
	storage   string
	baseURL   string
	years     []string
	meshTypes []string
}

func (o *overrides) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&o.input, "input", "i", "input.json", "Batch file (JSON or YAML), - for stdin")
	flags.StringVar(&o.storage, "storage", "", "Artifact root, overrides STORAGE_ROOT")
	flags.StringVar(&o.baseURL, "base-url", "", "Portal base URL, overrides MALHA_BASE_URL")
	flags.StringSliceVar(&o.years, "years", nil, "Default years for companies of a batch without years")
	flags.StringSliceVar(&o.meshTypes, "mesh-types", nil, "Default mesh type codes for a batch without mesh types")
}

func (o *overrides) apply(cfg *config.Config) {
	if o.storage != "" {
		cfg.Storage.Root = o.storage
	}
	if o.baseURL != "" {
		cfg.Malha.BaseURL = o.baseURL
	}
	if len(o.years) > 0 {
		cfg.Malha.Years = o.years
	}
	if len(o.meshTypes) > 0 {
		cfg.Malha.MeshTypes = o.meshTypes
	}
}
