package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/rudransh-shrivastava/peer-share/internal/db"
	"github.com/rudransh-shrivastava/peer-share/internal/store"
	"github.com/spf13/cobra"
)

var (
	historyLimit     int
	historyDirection string
	historyPeer      string
	historyClear     bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "show past transfers",
	Long:  `lists transfers recorded on this device. Only metadata is kept, never file contents.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		gormDB, history, err := openHistory(cfg)
		if err != nil {
			return err
		}
		defer db.Close(gormDB)

		ctx := cmd.Context()
		if historyClear {
			n, err := history.Clear(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d records\n", n)
			return nil
		}

		recs, err := history.List(ctx, store.Filter{
			Direction: historyDirection,
			PeerID:    historyPeer,
			Limit:     historyLimit,
		})
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println("No transfers yet")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "WHEN\tDIRECTION\tFILE\tSIZE\tPEER\tSTATUS")
		for _, r := range recs {
			peer := r.PeerName
			if peer == "" {
				peer = r.PeerID
			}
			status := r.Status
			if r.Error != "" {
				status = fmt.Sprintf("%s: %s", r.Status, r.Error)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				humanize.Time(r.StartedAt), r.Direction, r.FileName,
				humanize.IBytes(uint64(max(r.Size, 0))), peer, status)
		}
		return w.Flush()
	},
}

func init() {
	flags := historyCmd.Flags()
	flags.IntVarP(&historyLimit, "limit", "l", 20, "number of records to show, 0 for all")
	flags.StringVar(&historyDirection, "direction", "", `only "send" or "receive"`)
	flags.StringVar(&historyPeer, "peer", "", "only transfers with this peer id")
	flags.BoolVar(&historyClear, "clear", false, "delete all records")
}
