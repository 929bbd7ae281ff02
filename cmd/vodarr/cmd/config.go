package cmd

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/vodarr/internal/config"
	"github.com/jmylchreest/vodarr/pkg/bytesize"
	"github.com/jmylchreest/vodarr/pkg/duration"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing vodarr configuration.`,
}

var configShowCmd = &cobra.Command{
	Use:     "show",
	Aliases: []string{"dump"},
	Short:   "Show the effective configuration",
	Long: `Show the effective configuration values in YAML format.

This renders every option after defaults, config file, and environment
variables are merged, with credentials masked. You can redirect this
output to a file to create a configuration template:

  vodarr config show > config.yaml

Configuration can be set via:
  - Config file (config.yaml in ., $HOME/.vodarr, /etc/vodarr)
  - Environment variables (VODARR_SERVER_PORT, VODARR_DATABASE_DSN, etc.)
  - Command-line flags (for some options)

Environment variables use the VODARR_ prefix and underscores for nesting.
Example: server.port -> VODARR_SERVER_PORT`,
	RunE: runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the effective configuration",
	Long: `Load the configuration from file and environment and run validation.

Exits non-zero with a description of the first problem found. Useful as a
pre-flight check in deployment scripts before restarting the service.`,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

// toMap converts a struct to a map, formatting durations and sizes for human readability.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Tag.Get("yaml")
		}
		if key == "" {
			key = fieldType.Name
		}

		switch v := field.Interface().(type) {
		case time.Duration:
			result[key] = duration.Format(v)
		case config.Duration:
			result[key] = duration.Format(v.Duration())
		case config.ByteSize:
			result[key] = bytesize.Format(bytesize.Size(v))
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
			} else {
				result[key] = field.Interface()
			}
		}
	}
	return result
}

// maskSecrets blanks credential values so a dump is safe to share.
func maskSecrets(cfgMap map[string]any) {
	secretKeys := []string{"client_secret", "webhook_secret", "oauth_token", "password"}
	for key, value := range cfgMap {
		if nested, ok := value.(map[string]any); ok {
			maskSecrets(nested)
			continue
		}
		for _, secret := range secretKeys {
			if strings.EqualFold(key, secret) {
				if s, ok := value.(string); ok && s != "" {
					cfgMap[key] = "[REDACTED]"
				}
			}
		}
	}
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	// Load config with defaults plus whatever file/env supply
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cfgMap := toMap(cfg)
	maskSecrets(cfgMap)

	yamlData, err := yaml.Marshal(cfgMap)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Println("# vodarr Configuration File")
	fmt.Println("# ==========================")
	fmt.Println("#")
	fmt.Println("# Duration format: 30s, 5m, 1h, 30d")
	fmt.Println("# Size format: 64KiB, 5MB, 1GB")
	fmt.Println("#")
	fmt.Println("# Environment variable overrides:")
	fmt.Println("#   VODARR_SERVER_HOST, VODARR_SERVER_PORT, VODARR_SERVER_PUBLIC_URL")
	fmt.Println("#   VODARR_DATABASE_DRIVER, VODARR_DATABASE_DSN")
	fmt.Println("#   VODARR_STORAGE_RECORDINGS_DIR, VODARR_STORAGE_LOGS_DIR")
	fmt.Println("#   VODARR_TWITCH_CLIENT_ID, VODARR_TWITCH_CLIENT_SECRET")
	fmt.Println("#   VODARR_LOGGING_LEVEL, VODARR_LOGGING_FORMAT")
	fmt.Println("#   etc.")
	fmt.Println("#")
	fmt.Println("")
	fmt.Print(string(yamlData))

	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	fmt.Printf("configuration OK (server %s, database %s, recordings %s)\n",
		cfg.Server.Address(), cfg.Database.Driver, cfg.Storage.RecordingsDir)
	return nil
}
