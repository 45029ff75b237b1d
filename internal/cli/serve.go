package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dita/anygate/internal/config"
	"github.com/dita/anygate/internal/logger"
	"github.com/dita/anygate/pkg/agent"
	"github.com/dita/anygate/pkg/gateway"
	"github.com/dita/anygate/pkg/isolation"
	"github.com/dita/anygate/pkg/model"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway server",
	RunE: func(_ *cobra.Command, _ []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	lg, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer lg.Close()
	zl := lg.GetZerolog()

	provider, err := model.NewProvider(cfg.Runtime.Provider, cfg.Runtime.APIKey)
	if err != nil {
		return err
	}

	factory := agent.ChatFactory(provider, agent.ChatConfig{
		Model:        cfg.Runtime.Model,
		SystemPrompt: cfg.Runtime.SystemPrompt,
		MaxTokens:    cfg.Runtime.MaxTokens,
		Temperature:  cfg.Runtime.Temperature,
	})

	// One probe handle classifies the runtime; per-context handles come
	// from the factory on demand.
	probe, err := factory()
	if err != nil {
		return fmt.Errorf("failed to build agent handle: %w", err)
	}

	family, err := agent.ParseFamily(cfg.Runtime.Family)
	if err != nil {
		return err
	}
	strategy, err := isolation.ParseStrategy(cfg.Isolation.Strategy)
	if err != nil {
		return err
	}

	mgr, err := isolation.NewManager(isolation.Config{
		Handle:   probe,
		Family:   family,
		Factory:  factory,
		Strategy: strategy,
		Logger:   zl,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize context isolation: %w", err)
	}
	defer mgr.Close()

	if cfg.Isolation.IdleTTLMinutes > 0 {
		reaper := isolation.NewReaper(
			mgr,
			time.Duration(cfg.Isolation.IdleTTLMinutes)*time.Minute,
			time.Duration(cfg.Isolation.ReapIntervalMinutes)*time.Minute,
			zl,
		)
		if err := reaper.Start(); err != nil {
			return err
		}
		defer reaper.Stop()
	}

	srv, err := gateway.NewServer(gateway.Config{
		Port:    cfg.Server.Port,
		Manager: mgr,
		Card: gateway.DefaultCard(
			cfg.Card.Name,
			cfg.Card.Description,
			cfg.Card.URL,
			cfg.Card.Version,
		),
		Logger: zl,
	})
	if err != nil {
		return err
	}

	if err := srv.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zl.Info().Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}
