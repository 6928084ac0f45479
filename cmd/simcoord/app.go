package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	simcoord "github.com/ksparavec/simcoord"
	"github.com/ksparavec/simcoord/internal/correlation"
)

// Viper keys for the persistent configuration surface.
const (
	keyStateDir    = "state_dir"
	keyLockDir     = "lock_dir"
	keyJobID       = "job_id"
	keyJournal     = "journal"
	keyConfigFile  = "config"
	keyCorrelation = "correlation_id"
)

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(
		pslog.WithEnvPrefix("SIMCOORD_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "simcoord")
	cmd := newRootCommand(baseLogger)
	ctx = withSignalCancel(ctx)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if err != context.Canceled {
			fmt.Fprintf(os.Stderr, "%s\n", err)
		}
		return 1
	}
	return 0
}

type app struct {
	logger pslog.Logger
}

func newRootCommand(logger pslog.Logger) *cobra.Command {
	a := &app{logger: logger}
	cmd := &cobra.Command{
		Use:           "simcoord",
		Short:         "Registry and lock coordinator for the network-simulation platform",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.String("state-dir", "/var/lib/simcoord", "directory holding registry snapshots")
	flags.String("lock-dir", "/run/simcoord/locks", "directory holding lock files (ideally tmpfs)")
	flags.String("job-id", "", "job identifier for lease and lock ownership (default: generated)")
	flags.String("journal", "", "optional diagnostic journal path (JSON lines)")
	flags.String("config", "", "config file path (default: search ./simcoord.yaml, /etc/simcoord/simcoord.yaml)")
	flags.String("correlation-id", "", "correlation identifier for log lines (default: generated)")

	mustBindFlag(keyStateDir, flags.Lookup("state-dir"))
	mustBindFlag(keyLockDir, flags.Lookup("lock-dir"))
	mustBindFlag(keyJobID, flags.Lookup("job-id"))
	mustBindFlag(keyJournal, flags.Lookup("journal"))
	mustBindFlag(keyConfigFile, flags.Lookup("config"))
	mustBindFlag(keyCorrelation, flags.Lookup("correlation-id"))
	viper.SetEnvPrefix("SIMCOORD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	cmd.AddCommand(
		newHostCommand(a),
		newLeaseCommand(a),
		newRouterCommand(a),
		newNeighborCommand(a),
		newDoctorCommand(a),
	)
	return cmd
}

func mustBindFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", key, err))
	}
}

func loadConfigFile() error {
	if path := strings.TrimSpace(viper.GetString(keyConfigFile)); path != "" {
		viper.SetConfigFile(path)
		return viper.ReadInConfig()
	}
	viper.SetConfigName("simcoord")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/simcoord")
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}
	return nil
}

// openCoordinator builds the coordinator from the resolved configuration
// and returns it together with a context carrying the correlation ID.
func (a *app) openCoordinator(ctx context.Context) (*simcoord.Coordinator, context.Context, error) {
	if err := loadConfigFile(); err != nil {
		return nil, ctx, fmt.Errorf("load config: %w", err)
	}
	cid := strings.TrimSpace(viper.GetString(keyCorrelation))
	if cid == "" {
		cid = correlation.Generate()
	}
	ctx = correlation.Set(ctx, cid)

	cfg := simcoord.Config{
		StateDir:    viper.GetString(keyStateDir),
		LockDir:     viper.GetString(keyLockDir),
		JournalPath: viper.GetString(keyJournal),
		Logger:      a.logger,
	}
	c, err := simcoord.New(cfg)
	if err != nil {
		return nil, ctx, err
	}
	return c, ctx, nil
}

// jobID resolves the job identifier for lease and lock ownership,
// generating one when the invocation did not supply it.
func (a *app) jobID() string {
	if id := strings.TrimSpace(viper.GetString(keyJobID)); id != "" {
		return id
	}
	return "job-" + uuid.NewString()
}
