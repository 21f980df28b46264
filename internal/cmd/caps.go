package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/devicerig/internal/capability"
	"github.com/Iron-Ham/devicerig/internal/config"
	"github.com/Iron-Ham/devicerig/internal/params"
	"github.com/Iron-Ham/devicerig/internal/properties"
)

var capsCmd = &cobra.Command{
	Use:   "caps",
	Short: "Print the capabilities a session would be opened with",
	Long: `Caps resolves the device parameters from flags, DEVICERIG_* environment
variables and defaults, reads the properties file and prints the server URL
and capabilities without starting anything.`,
	Args: cobra.NoArgs,
	RunE: runCaps,
}

var capsFormat string

func init() {
	rootCmd.AddCommand(capsCmd)

	capsCmd.Flags().StringVarP(&capsFormat, "format", "o", "json", "output format (json/yaml)")
	addParamFlags(capsCmd)
}

func runCaps(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store := params.NewStore()
	if err := store.InitializeDefaults(paramOverrides(cmd)); err != nil {
		return err
	}
	props, err := properties.Read(cfg.Paths.PropertiesFile)
	if err != nil {
		return err
	}

	desc, err := describe(cfg, store.Snapshot(), props)
	if err != nil {
		return err
	}
	return writeCapabilities(cmd.OutOrStdout(), desc, capsFormat)
}

func describe(cfg *config.Config, set params.Set, props properties.Properties) (capability.Descriptor, error) {
	return capability.NewBuilder(capability.Settings{
		ResourcesDir:      cfg.Paths.ResourcesDir,
		NewCommandTimeout: cfg.Session.NewCommandTimeout(),
		AvdLaunchTimeout:  cfg.Session.AvdLaunchTimeout(),
	}).Build(set, props)
}

type capsOutput struct {
	ServerURL    string         `json:"serverUrl" yaml:"serverUrl"`
	Capabilities map[string]any `json:"capabilities" yaml:"capabilities"`
}

func writeCapabilities(w io.Writer, desc capability.Descriptor, format string) error {
	out := capsOutput{ServerURL: desc.ServerURL.String(), Capabilities: desc.Capabilities()}

	switch format {
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(out); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q (valid: json, yaml)", format)
	}
}
