package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	sendTo      string
	sendWait    time.Duration
	assumeYes   bool
	sendTimeout time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send file [file...]",
	Short: "send files to a peer",
	Long: `connects to the relay, opens a direct channel to the target peer and
streams each file over it. Without --to the first peer to appear is used.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		for _, path := range args {
			stat, err := os.Stat(path)
			if err != nil {
				return err
			}
			if cfg.MaxFileSize > 0 && stat.Size() > cfg.MaxFileSize {
				return fmt.Errorf("%s is %s, the limit is %s", path,
					humanize.IBytes(uint64(stat.Size())), humanize.IBytes(uint64(cfg.MaxFileSize)))
			}
			if cfg.WarnFileSize > 0 && stat.Size() >= cfg.WarnFileSize && !assumeYes {
				question := fmt.Sprintf("%s is %s and may exhaust the receiver's memory. Send anyway?",
					path, humanize.IBytes(uint64(stat.Size())))
				if !confirm(question) {
					return fmt.Errorf("cancelled")
				}
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		bars := newProgressBars(os.Stderr)
		s, err := connect(ctx, cfg, bars.Update)
		if err != nil {
			return err
		}
		defer s.Close()

		waitCtx, cancel := context.WithTimeout(ctx, sendWait)
		peer, err := s.node.WaitForPeer(waitCtx, sendTo)
		cancel()
		if err != nil {
			if sendTo == "" {
				return fmt.Errorf("no peer showed up within %s", sendWait)
			}
			return fmt.Errorf("peer %s is not connected: %w", sendTo, err)
		}
		fmt.Printf("Sending to %s (%s)\n", peer.Name(), peer.ID)

		for _, path := range args {
			sendCtx := ctx
			var cancel context.CancelFunc = func() {}
			if sendTimeout > 0 {
				sendCtx, cancel = context.WithTimeout(ctx, sendTimeout)
			}
			t, err := s.node.SendFile(sendCtx, peer.ID, path)
			cancel()
			if err != nil {
				bars.Stop(t.ID)
				return fmt.Errorf("sending %s: %w", path, err)
			}
			elapsed := t.FinishedAt.Sub(t.StartedAt)
			fmt.Printf("Sent %s (%s) in %s\n", t.FileName, humanize.IBytes(uint64(t.BytesTransferred)), elapsed.Round(time.Millisecond))
		}
		return nil
	},
}

func init() {
	sendCmd.Flags().StringVarP(&sendTo, "to", "t", "", "id of the receiving peer")
	sendCmd.Flags().DurationVar(&sendWait, "wait", 30*time.Second, "how long to wait for the peer to appear")
	sendCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "send large files without asking")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 0, "give up on a file after this long, 0 for no limit")
}

func confirm(question string) bool {
	fmt.Printf("%s [y/N] ", question)
	answer, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
