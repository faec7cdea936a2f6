package migrate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nimburion/migratestate/pkg/observability/logger"
)

const (
	defaultSubcommand = "up"
	defaultSteps      = 1
	defaultTimeout    = 60 * time.Second
)

// PendingMigration contains an unapplied migration entry for status output.
type PendingMigration struct {
	Title       string
	Description string
}

// AppliedMigration contains an applied migration entry for status output.
type AppliedMigration struct {
	Title     string
	AppliedAt time.Time
}

// Status is the normalized migration status used by the CLI helper.
type Status struct {
	LastRun string
	Applied []AppliedMigration
	Pending []PendingMigration
}

// Operations defines the migration hooks driven by RunParsed.
type Operations struct {
	Up     func(ctx context.Context, target string) (int, error)
	Down   func(ctx context.Context, steps int) (int, error)
	Status func(ctx context.Context) (*Status, error)
}

// Options configures migration command behavior.
type Options struct {
	ServiceName string
	Timeout     time.Duration
	Logger      logger.Logger
}

// Command is a parsed migrate invocation.
type Command struct {
	Subcommand string
	Steps      int
	Target     string
}

// Run executes migrate subcommands using shared parsing, timeout and logging.
func Run(ctx context.Context, args []string, opts Options, ops Operations) error {
	cmd, err := ParseArgs(args)
	if err != nil {
		return err
	}
	return RunParsed(ctx, cmd, opts, ops)
}

// RunParsed executes a parsed migration command.
func RunParsed(ctx context.Context, cmd Command, opts Options, ops Operations) error {
	if err := validateOptions(opts); err != nil {
		return err
	}
	if err := validateOperations(ops); err != nil {
		return err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	log := opts.Logger.WithContext(ctx)

	switch cmd.Subcommand {
	case "up":
		applied, err := ops.Up(ctx, cmd.Target)
		if err != nil {
			return err
		}
		log.Info("migrations applied", "count", applied, "target", cmd.Target)
		return nil
	case "down":
		if cmd.Steps <= 0 {
			return errors.New("steps must be greater than zero")
		}
		reverted, err := ops.Down(ctx, cmd.Steps)
		if err != nil {
			return err
		}
		log.Info("migrations reverted", "count", reverted, "steps", cmd.Steps)
		return nil
	case "status":
		status, err := ops.Status(ctx)
		if err != nil {
			return err
		}
		log.Info("migration status", "applied", len(status.Applied), "pending", len(status.Pending), "last_run", status.LastRun)
		for _, applied := range status.Applied {
			log.Info("migration applied", "title", applied.Title, "applied_at", applied.AppliedAt)
		}
		for _, pending := range status.Pending {
			log.Info("migration pending", "title", pending.Title)
		}
		return nil
	default:
		return usageError(opts.ServiceName)
	}
}

// ParseArgs parses [up [target]|down [steps]|status], defaulting to "up".
func ParseArgs(args []string) (Command, error) {
	cmd := Command{Subcommand: defaultSubcommand, Steps: defaultSteps}
	if len(args) > 0 {
		cmd.Subcommand = args[0]
	}
	if len(args) > 1 {
		switch cmd.Subcommand {
		case "down":
			parsed, err := strconv.Atoi(args[1])
			if err != nil {
				return Command{}, fmt.Errorf("invalid down steps %q", args[1])
			}
			cmd.Steps = parsed
		case "up":
			cmd.Target = args[1]
		}
	}
	return cmd, nil
}

func validateOptions(opts Options) error {
	if opts.Logger == nil {
		return errors.New("migration logger is required")
	}
	if opts.ServiceName == "" {
		return errors.New("migration service name is required")
	}
	return nil
}

func validateOperations(ops Operations) error {
	if ops.Up == nil || ops.Down == nil || ops.Status == nil {
		return errors.New("migration operations are incomplete")
	}
	return nil
}

func usageError(serviceName string) error {
	return fmt.Errorf("usage: %s [up [target]|down [steps]|status]", serviceName)
}
