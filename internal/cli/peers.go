package cli

import (
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rudransh-shrivastava/peer-mesh/internal/store"
	"github.com/spf13/cobra"
)

func newPeersCmd() *cobra.Command {
	var online bool

	cmd := &cobra.Command{
		Use:   "peers JOURNAL",
		Short: "lists the peers recorded in a journal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(args[0])
			if err != nil {
				return err
			}
			defer st.Close()

			peers, err := st.Peers(cmd.Context(), online)
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"ID", "Account", "Online", "Last seen"})
			for _, p := range peers {
				t.AppendRow(table.Row{p.ID, p.Account, p.Online, time.UnixMilli(p.SeenAt).Format(time.RFC3339)})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().BoolVar(&online, "online", false, "only peers still connected")
	return cmd
}
