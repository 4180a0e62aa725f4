package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"convert-web/internal/zipstream"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newTransfersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transfers",
		Short: "List the transfers a server is holding",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}

			server := strings.TrimRight(s.String("server"), "/")
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, server+"/api/transfers", http.NoBody)
			if err != nil {
				return err
			}
			resp, err := (&http.Client{Timeout: 30 * time.Second}).Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("server answered %s", resp.Status)
			}

			var transfers []zipstream.TransferInfo
			if err := json.NewDecoder(resp.Body).Decode(&transfers); err != nil {
				return fmt.Errorf("decode transfers: %w", err)
			}

			printTransfers(cmd, transfers)
			return nil
		},
	}
}

func printTransfers(cmd *cobra.Command, transfers []zipstream.TransferInfo) {
	out := cmd.OutOrStdout()
	if len(transfers) == 0 {
		fmt.Fprintln(out, "No transfers")
		return
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tWRITTEN\tREAD\tBUFFERED\tUPDATED")
	for _, t := range transfers {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.State,
			humanize.IBytes(uint64(t.BytesWritten)),
			humanize.IBytes(uint64(t.BytesRead)),
			humanize.IBytes(uint64(t.Buffered)),
			humanize.Time(t.UpdatedAt))
	}
	_ = tw.Flush()
}
