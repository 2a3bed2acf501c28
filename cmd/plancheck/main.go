package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/PlanCheck/internal/backend"
	"github.com/dharsanguruparan/PlanCheck/internal/config"
	"github.com/dharsanguruparan/PlanCheck/internal/controller"
	"github.com/dharsanguruparan/PlanCheck/internal/logging"
	"github.com/dharsanguruparan/PlanCheck/internal/progress"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "plancheck: %v\n", err)
		os.Exit(1)
	}
}

// app carries what every subcommand needs once flags are parsed.
type app struct {
	envFile  string
	apiURL   string
	logLevel string

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:   "plancheck",
		Short: "Upload plan documents and validate them against the backend",
		Long: `plancheck uploads files to the Backend Validation API, triggers validation,
and prints or exports the results. The backend root is read from
PLANCHECK_API_BASE_URL (or --api-url).`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	cmd.PersistentFlags().StringVar(&a.envFile, "env-file", "", "Load variables from this file before reading the environment")
	cmd.PersistentFlags().StringVar(&a.apiURL, "api-url", "", "Backend Validation API root (overrides PLANCHECK_API_BASE_URL)")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error (defaults to warn for the CLI)")
	cmd.AddCommand(
		newUploadCmd(a),
		newValidateCmd(a),
		newRunCmd(a),
		newListCmd(a),
		newDeleteCmd(a),
		newInspectCmd(a),
		newEnqueueCmd(a),
		newHistoryCmd(a),
		newExportCmd(a),
	)
	return cmd
}

func (a *app) init() error {
	if a.apiURL != "" {
		if err := os.Setenv("PLANCHECK_API_BASE_URL", a.apiURL); err != nil {
			return err
		}
	}
	cfg, err := config.Load(a.envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	level := a.logLevel
	if level == "" {
		level = "warn"
	}
	logger, err := logging.New(level, cfg.LogDevMode)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *app) client() *backend.Client {
	return backend.NewClient(a.cfg.APIBaseURL, a.cfg.RequestTimeout, a.logger.Named("backend"))
}

func (a *app) controller(opts ...controller.Option) *controller.Controller {
	base := []controller.Option{
		controller.WithLogger(a.logger.Named("controller")),
		controller.WithProgress(progress.New(a.cfg.ProgressInterval, a.cfg.ProgressStep, a.cfg.ProgressCap)),
		controller.WithClearDelay(0),
	}
	return controller.New(a.client(), append(base, opts...)...)
}
