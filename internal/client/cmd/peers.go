package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var peersWait time.Duration

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "list peers connected to the relay",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		s, err := connect(cmd.Context(), cfg, nil)
		if err != nil {
			return err
		}
		defer s.Close()

		// Roster and device info arrive right after the id; give them a moment.
		select {
		case <-time.After(peersWait):
		case <-s.node.Done():
			return s.node.Err()
		}

		rtt, quality := s.node.Quality()
		fmt.Printf("You are %s, relay round trip %s (%s)\n", s.node.ID(), rtt.Round(time.Millisecond), quality)

		peers := s.node.Peers()
		if len(peers) == 0 {
			fmt.Println("No other peers online")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTYPE")
		for _, p := range peers {
			fmt.Fprintf(w, "%s\t%s\t%s\n", p.ID, p.Name(), p.DeviceInfo.DeviceType)
		}
		return w.Flush()
	},
}

func init() {
	peersCmd.Flags().DurationVar(&peersWait, "wait", 2*time.Second, "how long to collect the roster")
}
