package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.yaml.in/yaml/v3"

	"github.com/nimburion/migratestate/pkg/config"
	"github.com/nimburion/migratestate/pkg/migrate"
	"github.com/nimburion/migratestate/pkg/observability/logger"
	"github.com/nimburion/migratestate/pkg/version"
)

const defaultEnvPrefix = "MIGRATE"

// CommandOptions configures the migration runner command tree.
type CommandOptions struct {
	Name        string
	Description string
	ConfigPath  string
	EnvPrefix   string

	// Optional: receives command output (state, config, version). Defaults to os.Stdout.
	Out io.Writer
	// Optional: receives log entries. Defaults to os.Stderr.
	LogOutput io.Writer
	// Optional: opens the database migrations run against. Defaults to migrate.OpenDatabase.
	OpenDatabase func(ctx context.Context, driverName, dsn string) (*sql.DB, error)
}

// NewMigrateCommand creates the CLI with up, down, status, state, config and version subcommands.
func NewMigrateCommand(opts CommandOptions) *cobra.Command {
	opts.EnvPrefix = resolveEnvPrefix(opts.EnvPrefix)
	if opts.Name == "" {
		opts.Name = "migratestate"
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.LogOutput == nil {
		opts.LogOutput = os.Stderr
	}
	if opts.OpenDatabase == nil {
		opts.OpenDatabase = migrate.OpenDatabase
	}

	rootCmd := &cobra.Command{
		Use:           opts.Name,
		Short:         opts.Description,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var cfgPath string
	var secretFilePath string
	var serviceNameOverride string
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config-file", "c", opts.ConfigPath, "config file path")
	rootCmd.PersistentFlags().StringVar(&secretFilePath, "secret-file", "", fmt.Sprintf("path to secrets file (sets %s_SECRETS_FILE)", opts.EnvPrefix))
	rootCmd.PersistentFlags().StringVar(&serviceNameOverride, "service-name", "", "service name override")
	rootCmd.PersistentFlags().String("migrations-path", "", "migrations directory override")

	loadConfig := func(flags *pflag.FlagSet) (*config.Config, *config.Config, error) {
		if err := applyMigrationsPathFlag(opts.EnvPrefix, flags); err != nil {
			return nil, nil, err
		}
		return LoadConfig(cfgPath, opts.EnvPrefix, secretFilePath, opts.Name, serviceNameOverride)
	}

	// version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			info := version.Current(opts.Name)
			fmt.Fprintf(opts.Out, "Service:    %s\n", info.Service)
			fmt.Fprintf(opts.Out, "Version:    %s\n", info.Version)
			fmt.Fprintf(opts.Out, "Commit:     %s\n", info.Commit)
			fmt.Fprintf(opts.Out, "Build Time: %s\n", info.BuildTime)
			if !info.IsRelease() {
				fmt.Fprintln(opts.Out, "(development build)")
			}
		},
	})

	// migration commands share one runner; args follow ParseArgs.
	migrationCommand := func(use, short string, args cobra.PositionalArgs) *cobra.Command {
		cmd := &cobra.Command{
			Use:   use,
			Short: short,
			Args:  args,
			RunE: func(cmd *cobra.Command, args []string) error {
				parsed, err := migrate.ParseArgs(append([]string{cmd.Name()}, args...))
				if err != nil {
					return err
				}
				cfg, secrets, err := loadConfig(cmd.Flags())
				if err != nil {
					return err
				}
				return withRuntime(cmd.Context(), cfg, secrets, opts, cmd.Name(), func(ctx context.Context, rt *runtime) error {
					return runMigrations(ctx, rt, opts, parsed)
				})
			},
		}
		return cmd
	}
	rootCmd.AddCommand(
		migrationCommand("up [target]", "Apply pending migrations, up to and including target", cobra.MaximumNArgs(1)),
		migrationCommand("down [steps]", "Revert the last applied migrations (default 1)", cobra.MaximumNArgs(1)),
		migrationCommand("status", "Show applied and pending migrations", cobra.NoArgs),
	)

	// state command
	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "Stored migration state commands",
	}

	var outputFormat string
	stateShowCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the stored migration state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if outputFormat != "yaml" && outputFormat != "json" {
				return fmt.Errorf("unsupported output format %q (use yaml or json)", outputFormat)
			}
			cfg, secrets, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), cfg, secrets, opts, "state show", func(ctx context.Context, rt *runtime) error {
				state, err := rt.store.Load(ctx)
				if migrate.IsNotFound(err) {
					rt.log.Info("no migration state stored")
					state = &migrate.State{}
				} else if err != nil {
					return fmt.Errorf("load migration state: %w", err)
				}
				if state.Migrations == nil {
					state.Migrations = []migrate.AppliedRecord{}
				}
				formatted, err := formatState(state, outputFormat)
				if err != nil {
					return err
				}
				_, err = io.WriteString(opts.Out, formatted)
				return err
			})
		},
	}
	stateShowCmd.Flags().StringVarP(&outputFormat, "output", "o", "yaml", "output format: yaml or json")
	stateCmd.AddCommand(stateShowCmd)
	rootCmd.AddCommand(stateCmd)

	// config command
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management commands",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := loadConfig(cmd.Flags()); err != nil {
				return err
			}
			fmt.Fprintln(opts.Out, "configuration is valid")
			return nil
		},
	})

	var showSecrets bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, secrets, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			if showSecrets {
				secrets = nil
			}
			_, err = io.WriteString(opts.Out, cfg.Redacted(secrets))
			return err
		},
	}
	showCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "show secret values")
	configCmd.AddCommand(showCmd)
	rootCmd.AddCommand(configCmd)

	return rootCmd
}

// LoadConfig loads configuration with secrets and applies the service name override.
// The second return value holds what the secrets file set, for redaction.
func LoadConfig(cfgPath, envPrefix, secretFilePath, defaultServiceName, serviceNameOverride string) (*config.Config, *config.Config, error) {
	envPrefix = resolveEnvPrefix(envPrefix)
	if err := applySecretFileFlag(envPrefix, secretFilePath); err != nil {
		return nil, nil, err
	}
	cfg, secrets, err := config.NewViperLoader(cfgPath, envPrefix).
		WithServiceNameDefault(defaultServiceName).
		LoadWithSecrets()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	applyResolvedServiceName(cfg, defaultServiceName, serviceNameOverride)
	return cfg, secrets, nil
}

// NewLogger builds the zap logger described by cfg, wrapped for async dispatch when enabled.
func NewLogger(cfg *config.Config, out io.Writer) (logger.Logger, error) {
	base, err := logger.NewZapLogger(logger.Config{
		Level:  logger.LogLevel(cfg.Observability.LogLevel),
		Format: logger.LogFormat(cfg.Observability.LogFormat),
		Output: out,
	})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	async := cfg.Observability.AsyncLogging
	return logger.WrapAsync(base, logger.AsyncConfig{
		Enabled:      async.Enabled,
		QueueSize:    async.QueueSize,
		WorkerCount:  async.WorkerCount,
		DropWhenFull: async.DropWhenFull,
	}), nil
}

func applySecretFileFlag(envPrefix, secretFilePath string) error {
	if secretFilePath == "" {
		return nil
	}
	info, err := os.Stat(secretFilePath)
	if err != nil {
		return fmt.Errorf("secret file %s is not accessible: %w", secretFilePath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("secret file %s must not be a directory", secretFilePath)
	}
	return os.Setenv(resolveEnvPrefix(envPrefix)+"_SECRETS_FILE", filepath.Clean(secretFilePath))
}

func applyMigrationsPathFlag(envPrefix string, flags *pflag.FlagSet) error {
	if flags == nil {
		return nil
	}
	flag := flags.Lookup("migrations-path")
	if flag == nil || !flag.Changed || strings.TrimSpace(flag.Value.String()) == "" {
		return nil
	}
	return os.Setenv(resolveEnvPrefix(envPrefix)+"_MIGRATIONS_PATH", flag.Value.String())
}

func formatState(state *migrate.State, format string) (string, error) {
	if format == "json" {
		data, err := migrate.EncodeJSON(state)
		if err != nil {
			return "", err
		}
		return string(data) + "\n", nil
	}
	data, err := yaml.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("marshal state: %w", err)
	}
	return string(data), nil
}

// Execute runs the command with ctx and exits with appropriate code.
func Execute(ctx context.Context, cmd *cobra.Command) {
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveEnvPrefix(prefix string) string {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		return defaultEnvPrefix
	}
	return strings.ToUpper(trimmed)
}

func applyResolvedServiceName(cfg *config.Config, defaultServiceName, serviceNameOverride string) {
	if cfg == nil {
		return
	}
	cfg.Service.Name = resolveServiceNameValue(cfg.Service.Name, defaultServiceName, serviceNameOverride)
}

func resolveServiceNameValue(currentConfigName, defaultServiceName, serviceNameOverride string) string {
	if override := strings.TrimSpace(serviceNameOverride); override != "" {
		return override
	}
	if configured := strings.TrimSpace(currentConfigName); configured != "" {
		return configured
	}
	if fallback := strings.TrimSpace(defaultServiceName); fallback != "" {
		return fallback
	}
	return "migratestate"
}
