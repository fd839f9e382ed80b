package commands

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/warden/am"
	"github.com/teranos/warden/errors"
	"github.com/teranos/warden/sym"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: sym.AM + " Manage warden configuration",
	Long: `am - Manage warden configuration ("I am")

Configuration sources (later overrides earlier):
1. Built-in defaults
2. System config (/etc/warden/am.toml)
3. User config (~/.warden/am.toml)
4. Project config (./am.toml, searched up from the working directory)
5. Environment variables (WARDEN_* prefix)

Examples:
  warden am show                              # Show current configuration
  warden am show --format json                # Show configuration in JSON format
  warden am get dispatcher.max_concurrent     # Get a specific value
  warden am set scheduler.enabled false       # Change a value in the user config
  warden am init --path ./am.toml             # Write a commented default config
  warden am where                             # Show where each value comes from`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Args:  cobra.NoArgs,
	RunE:  runAmShow,
}

var amGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a specific configuration value using dot notation (e.g., registry.path, dispatcher.overflow)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmGet,
}

var amSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in a config file (the user config unless --path is given).

The file is validated before it is written and the previous version is kept as .back1.
A running daemon picks the change up automatically.`,
	Args: cobra.ExactArgs(2),
	RunE: runAmSet,
}

var amInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a commented default configuration",
	Args:  cobra.NoArgs,
	RunE:  runAmInit,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	Args:  cobra.NoArgs,
	RunE:  runAmValidate,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where configuration is loaded from",
	Args:  cobra.NoArgs,
	RunE:  runAmWhere,
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json")
	amSetCmd.Flags().String("path", "", "Config file to change (default: ~/.warden/am.toml)")
	amInitCmd.Flags().String("path", "", "Config file to write (default: ~/.warden/am.toml)")
	amInitCmd.Flags().Bool("force", false, "Overwrite an existing file")

	AmCmd.AddCommand(amShowCmd, amGetCmd, amSetCmd, amInitCmd, amValidateCmd, amWhereCmd)
}

func userConfigPath(cmd *cobra.Command) string {
	if path, _ := cmd.Flags().GetString("path"); path != "" {
		return path
	}
	return filepath.Join(am.ConfigDir(), "am.toml")
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	switch configFormat {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to JSON")
		}
		fmt.Println(string(data))
	case "toml":
		data, err := toml.Marshal(cfg)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to TOML")
		}
		fmt.Printf("# warden configuration\n%s", string(data))
	default:
		return errors.NewInvalidRequestError("unsupported format: %s (supported: toml, json)", configFormat)
	}
	return nil
}

func runAmGet(cmd *cobra.Command, args []string) error {
	key := args[0]
	if !am.GetViper().IsSet(key) {
		return errors.NewNotFoundError("configuration key %q not found", key)
	}
	fmt.Println(am.Get(key))
	return nil
}

func runAmSet(cmd *cobra.Command, args []string) error {
	path := userConfigPath(cmd)
	if err := am.UpdateSetting(path, args[0], args[1]); err != nil {
		return err
	}
	am.Reset()
	pterm.Success.Printf("%s = %s (%s)\n", args[0], args[1], path)
	return nil
}

func runAmInit(cmd *cobra.Command, args []string) error {
	path := userConfigPath(cmd)
	force, _ := cmd.Flags().GetBool("force")
	if err := am.InitConfig(path, force); err != nil {
		return err
	}
	pterm.Success.Printf("Wrote default configuration to %s\n", path)
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}
	pterm.Success.Println("Configuration is valid")
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	intro, err := am.GetConfigIntrospection()
	if err != nil {
		return errors.Wrap(err, "failed to get config introspection")
	}
	if jsonOutput(cmd) {
		return printJSON(intro)
	}

	fmt.Println("Configuration cascade (later overrides earlier):")
	fmt.Println("  1. [default]      Built-in defaults")
	fmt.Println("  2. [system]       /etc/warden/am.toml")
	fmt.Println("  3. [user]         ~/.warden/am.toml")
	fmt.Println("  4. [project]      ./am.toml (searches up directories)")
	fmt.Println("  5. [environment]  WARDEN_* environment variables")
	fmt.Println()

	sourceOrder := []am.ConfigSource{
		am.SourceDefault,
		am.SourceSystem,
		am.SourceUser,
		am.SourceProject,
		am.SourceEnvironment,
	}

	fmt.Println("Active configuration:")
	for _, source := range sourceOrder {
		var settings []am.SettingInfo
		for _, s := range intro.Settings {
			if s.Source == source {
				settings = append(settings, s)
			}
		}
		if len(settings) == 0 {
			continue
		}

		switch source {
		case am.SourceDefault:
			fmt.Printf("\n%s: %d settings\n", source, len(settings))
		case am.SourceEnvironment:
			fmt.Printf("\n%s: %d settings from environment variables\n", source, len(settings))
		default:
			fmt.Printf("\n%s: %d settings from %s\n", source, len(settings), settings[0].SourcePath)
		}
		for _, s := range settings {
			valueStr := fmt.Sprintf("%v", s.Value)
			if len(valueStr) > 50 {
				valueStr = valueStr[:47] + "..."
			}
			fmt.Printf("  %s = %s\n", s.Key, valueStr)
		}
	}
	return nil
}
