// Command vrpc-agent hosts the classes registered in registry.go and
// serves vrpc RPC dispatch over an MQTT broker until SIGINT/SIGTERM.
//
// Startup sequence (following the teacher's arkeep-agent main.go):
//  1. Parse CLI flags / environment variables / config file
//  2. Build logger
//  3. Build the transport session and adapter registry
//  4. Start the Agent (subscribe, publish retained class info, go online)
//  5. Block until SIGINT/SIGTERM, then disconnect cleanly; no offline
//     presence is published on this path (the broker-held will is only
//     delivered on an unclean connection loss)
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vrpc-go/vrpc/agentrt"
	"github.com/vrpc-go/vrpc/config"
	"github.com/vrpc-go/vrpc/transport"
)

var (
	version = "dev"
)

type flags struct {
	configPath string
	broker     string
	domain     string
	agentName  string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}

	root := &cobra.Command{
		Use:   "vrpc-agent",
		Short: "vrpc agent — hosts callable classes over a pub/sub broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f)
		},
	}

	root.PersistentFlags().StringVar(&f.configPath, "config", "", "path to a vrpc config YAML file")
	root.PersistentFlags().StringVar(&f.broker, "broker", "", "broker URL (overrides config file / env)")
	root.PersistentFlags().StringVar(&f.domain, "domain", "", "domain this agent serves under (overrides config file / env)")
	root.PersistentFlags().StringVar(&f.agentName, "agent", "", "this agent's name (overrides config file / env)")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("vrpc-agent %s\n", version)
		},
	}
}

func run(ctx context.Context, f *flags) error {
	logger, err := buildLogger(f.logLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	cfg = config.ApplyEnv(cfg)
	if f.broker != "" {
		cfg.Broker = f.broker
	}
	if f.domain != "" {
		cfg.Domain = f.domain
	}
	if f.agentName != "" {
		cfg.Agent = f.agentName
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	hostname, _ := os.Hostname()

	session := transport.NewSession(transport.Options{
		BrokerURL: cfg.Broker,
		ClientID:  transport.NewClientID("vrpc-agent-" + cfg.Agent),
		Username:  cfg.AuthUsername(),
		Password:  cfg.AuthPassword(),
		Logger:    logger,
	})

	agent := agentrt.New(agentrt.Options{
		Domain:   cfg.Domain,
		AgentID:  cfg.Agent,
		Hostname: hostname,
		Registry: buildRegistry(),
		Session:  session,
		Logger:   logger,
	})

	if err := agent.Start(ctx); err != nil {
		return fmt.Errorf("start agent: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	logger.Info("vrpc-agent shutting down")
	session.Disconnect()
	return nil
}

func buildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}
