package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"speech-capture-service/internal/store"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions [id]",
	Short: "List recorded sessions from the journal, or show one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		j, err := store.Open(cmd.Context(), store.Config{Path: cfg.Store.Path}, zerolog.Nop())
		if err != nil {
			return err
		}
		defer j.Close()

		out := cmd.OutOrStdout()
		if len(args) == 1 {
			rec, err := j.GetSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		}

		recs, err := j.ListSessions(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if asJSON {
			return json.NewEncoder(out).Encode(recs)
		}

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTARTED\tSTATE\tBYTES\tTRANSCRIPT")
		for _, r := range recs {
			text := r.Transcript
			if r.Error != "" {
				text = "error: " + r.Error
			}
			if len(text) > 60 {
				text = text[:57] + "..."
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", r.ID, r.StartedAt.Local().Format(time.DateTime), r.State, r.AudioBytes, text)
		}
		return tw.Flush()
	},
}

func init() {
	sessionsCmd.Flags().Int("limit", 20, "number of sessions to list, newest first")
	sessionsCmd.Flags().Bool("json", false, "print JSON instead of a table")
}
