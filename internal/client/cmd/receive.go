package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	downloadDir  string
	receiveCount int
)

var receiveCmd = &cobra.Command{
	Use:   "receive",
	Short: "wait for files from other peers",
	Long: `connects to the relay and saves every file other peers send into the
download directory. Runs until interrupted, or until --count files arrived.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("dir") {
			cfg.DownloadDir = downloadDir
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		bars := newProgressBars(os.Stderr)
		s, err := connect(ctx, cfg, bars.Update)
		if err != nil {
			return err
		}
		defer s.Close()

		fmt.Printf("Waiting for files as %s (%s), saving to %s\n", cfg.DeviceName, s.node.ID(), cfg.DownloadDir)

		received := 0
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-s.node.Done():
				return s.node.Err()
			case r := <-s.node.Received():
				if r.Err != nil {
					bars.Stop(r.Transfer.ID)
					fmt.Fprintf(os.Stderr, "Transfer from %s failed: %v\n", r.PeerID, r.Err)
					continue
				}
				fmt.Printf("Received %s (%s) from %s -> %s\n", r.Transfer.FileName,
					humanize.IBytes(uint64(r.Transfer.BytesTransferred)), r.PeerID, r.Path)
				received++
				if receiveCount > 0 && received >= receiveCount {
					return nil
				}
			}
		}
	},
}

func init() {
	receiveCmd.Flags().StringVarP(&downloadDir, "dir", "d", ".", "directory to save files into")
	receiveCmd.Flags().IntVarP(&receiveCount, "count", "n", 0, "exit after this many files, 0 to run until interrupted")
}
