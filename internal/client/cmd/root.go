package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rudransh-shrivastava/peer-share/internal/config"
	"github.com/rudransh-shrivastava/peer-share/internal/db"
	"github.com/rudransh-shrivastava/peer-share/internal/logger"
	"github.com/rudransh-shrivastava/peer-share/internal/node"
	"github.com/rudransh-shrivastava/peer-share/internal/store"
	"github.com/rudransh-shrivastava/peer-share/internal/transfer"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

const connectTimeout = 15 * time.Second

var (
	configPath  string
	serverURL   string
	logLevel    string
	historyPath string
	deviceName  string
)

var rootCmd = &cobra.Command{
	Use:  `peer-share`,
	Long: `peer-share sends files directly between peers, using a relay only to find each other`,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	flags.StringVarP(&serverURL, "server", "s", "", "signaling relay URL")
	flags.StringVar(&logLevel, "log-level", "", "log level")
	flags.StringVar(&historyPath, "history-db", "", "transfer history database")
	flags.StringVar(&deviceName, "name", "", "device name shown to other peers")

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(receiveCmd)
	rootCmd.AddCommand(peersCmd)
	rootCmd.AddCommand(historyCmd)
}

// loadConfig merges defaults, the config file, the environment and flags.
func loadConfig(cmd *cobra.Command) (config.PeerConfig, error) {
	cfg, err := config.LoadPeer(configPath, os.LookupEnv)
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("server") {
		cfg.SignalingServerURL = serverURL
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("history-db") {
		cfg.HistoryDB = historyPath
	}
	if flags.Changed("name") {
		cfg.DeviceName = deviceName
	}
	return cfg, cfg.Validate()
}

func openHistory(cfg config.PeerConfig) (*gorm.DB, *store.TransferStore, error) {
	gormDB, err := db.Open(cfg.HistoryDB)
	if err != nil {
		return nil, nil, err
	}
	return gormDB, store.NewTransferStore(gormDB), nil
}

// session bundles a connected node with the resources it owns.
type session struct {
	node   *node.Node
	db     *gorm.DB
	logger *logrus.Logger
}

func (s *session) Close() {
	if err := s.node.Close(); err != nil {
		s.logger.Warnf("Failed to close node: %v", err)
	}
	if err := db.Close(s.db); err != nil {
		s.logger.Warnf("Failed to close history: %v", err)
	}
}

// connect starts a node against the relay. Logs go to stderr so they do not
// interleave with command output.
func connect(ctx context.Context, cfg config.PeerConfig, onProgress func(string, transfer.Transfer)) (*session, error) {
	log := logger.New(os.Stderr, parseLevel(cfg.LogLevel))

	gormDB, history, err := openHistory(cfg)
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	n, err := node.New(dialCtx, node.Options{
		Config:     cfg,
		History:    history,
		Logger:     log,
		OnProgress: onProgress,
	})
	if err != nil {
		_ = db.Close(gormDB)
		return nil, err
	}
	if err := n.Start(dialCtx); err != nil {
		_ = n.Close()
		_ = db.Close(gormDB)
		return nil, err
	}
	return &session{node: n, db: gormDB, logger: log}, nil
}

func parseLevel(level string) logrus.Level {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.WarnLevel
	}
	return lvl
}
