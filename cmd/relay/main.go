package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rudransh-shrivastava/peer-share/internal/config"
	"github.com/rudransh-shrivastava/peer-share/internal/logger"
	"github.com/rudransh-shrivastava/peer-share/internal/relay"
	"github.com/spf13/cobra"
)

var (
	configPath     string
	host           string
	port           int
	maxConnections int
	corsOrigin     string
	logLevel       string
)

var rootCmd = &cobra.Command{
	Use:   "peer-share-relay",
	Short: "runs the peer-share signaling relay",
	Long: `runs the signaling relay: it assigns peer ids, tracks who is online and
forwards offers, answers and ICE candidates between peers. File bytes never
pass through it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadRelay(configPath, os.LookupEnv)
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		if flags.Changed("host") {
			cfg.Host = host
		}
		if flags.Changed("port") {
			cfg.Port = port
		}
		if flags.Changed("max-connections") {
			cfg.MaxConnections = maxConnections
		}
		if flags.Changed("cors-origin") {
			cfg.CORSOrigin = corsOrigin
		}
		if flags.Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		log := logger.NewLoggerWithLevel(cfg.LogLevel)

		server, err := relay.NewServer(relay.Config{Relay: cfg, Logger: log})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := server.Start(ctx); err != nil {
			return err
		}
		log.Info("Relay stopped")
		return nil
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	flags.StringVar(&host, "host", "0.0.0.0", "address to listen on")
	flags.IntVarP(&port, "port", "p", 8080, "port to listen on")
	flags.IntVar(&maxConnections, "max-connections", 1000, "maximum concurrent peers, 0 for no limit")
	flags.StringVar(&corsOrigin, "cors-origin", "*", `"*" to accept any origin, anything else restricts to the allowlist`)
	flags.StringVar(&logLevel, "log-level", "info", "log level")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
