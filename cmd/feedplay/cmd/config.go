package cmd

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/feedplay/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing feedplay configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the effective configuration in YAML format.

Without a config file or environment overrides this prints the defaults,
which makes a convenient template:

  feedplay config dump > config.yaml

Environment variables use the FEEDPLAY_ prefix and underscores for nesting.
Example: pool.max_capacity -> FEEDPLAY_POOL_MAX_CAPACITY`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a config struct to a map keyed by yaml tag, formatting
// durations and sizes for humans.
func toMap(v any) map[string]any {
	val := reflect.Indirect(reflect.ValueOf(v))
	typ := val.Type()
	result := make(map[string]any, val.NumField())

	for i := range val.NumField() {
		field := val.Field(i)
		key, _, _ := strings.Cut(typ.Field(i).Tag.Get("yaml"), ",")
		if key == "" {
			key = strings.ToLower(typ.Field(i).Name)
		}

		switch fv := field.Interface().(type) {
		case time.Duration:
			result[key] = fv.String()
		case config.ByteSize:
			result[key] = fv.String()
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(fv)
			} else {
				result[key] = fv
			}
		}
	}
	return result
}

func runConfigDump(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	data, err := yaml.Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "# feedplay configuration")
	fmt.Fprintln(out, "#")
	fmt.Fprintln(out, "# Duration format: 500ms, 10s, 5m")
	fmt.Fprintln(out, "# Size format: 64KB, 1MB")
	fmt.Fprintln(out)
	fmt.Fprint(out, string(data))
	return nil
}
