package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/petrel-search/petrel/configs"
	"github.com/petrel-search/petrel/internal/config"
	"github.com/petrel-search/petrel/internal/ui"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage the petrel configuration file.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. YAML file ($PETREL_CONFIG, or petrel.yaml in the current directory)
  3. Environment variables (UPLOAD_DIR, EMBED_PROVIDER, ...)`,
		Example: `  # Create petrel.yaml from the annotated template
  petrel config init

  # Show the effective configuration after merging all sources
  petrel config show

  # Print the config file path
  petrel config path`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file from the template",
		Long: `Write the annotated configuration template to petrel.yaml in the
current directory. Every setting ships commented out with its default
and the environment variable that overrides it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing petrel.yaml")

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long:  `Show the configuration after merging defaults, file, and environment.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, ok := resolveConfigPath()
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), path, "(not created yet, run 'petrel config init')")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func runConfigInit(cmd *cobra.Command, force bool) error {
	out := ui.NewWriter(cmd.OutOrStdout(), ui.DetectNoColor())
	path := "petrel.yaml"

	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists, use --force to overwrite", path)
	}

	if err := os.WriteFile(path, []byte(configs.ConfigTemplate), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	out.Successf("created %s", abs)
	out.Status("", "Edit it, then start the server with 'petrel serve'.")
	return nil
}

func runConfigShow(cmd *cobra.Command, jsonOutput bool) error {
	cfg, err := config.Load(".")
	if err != nil {
		return err
	}

	if jsonOutput {
		return ui.NewRenderer(cmd.OutOrStdout(), true).RenderJSON(cfg)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode configuration: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

// resolveConfigPath mirrors the loader's file resolution. The boolean
// reports whether the file exists.
func resolveConfigPath() (string, bool) {
	if p := os.Getenv("PETREL_CONFIG"); p != "" {
		_, err := os.Stat(p)
		return p, err == nil
	}
	for _, name := range []string{"petrel.yaml", "petrel.yml"} {
		if _, err := os.Stat(name); err == nil {
			abs, aerr := filepath.Abs(name)
			if aerr != nil {
				return name, true
			}
			return abs, true
		}
	}
	abs, err := filepath.Abs("petrel.yaml")
	if err != nil {
		return "petrel.yaml", false
	}
	return abs, false
}
