package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/juniormsyoka/med-assistant-front-sub000/internal/app"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/config"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/logger"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/store/keys"
)

func newSyncCmd(o *rootOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Probe the remote store and push the outbox once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withApp(cmd, func(ctx context.Context, a *app.App, _ config.EffectiveConfigResult) error {
				ctx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()
				if err := a.ProbeOnce(ctx); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "remote unreachable: %v\n", err)
				}
				rep, err := a.Engine().Sync(ctx)
				if err != nil {
					return err
				}
				logger.AuditEvent("cli_sync", "run", rep.RunID, "synced", rep.Synced)
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "run %s: online=%t synced=%d pending=%d\n", rep.RunID, rep.Online, rep.Synced, rep.Pending)
				if rep.Error != "" {
					fmt.Fprintf(out, "halted: %s\n", rep.Error)
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "give up after this long")
	return cmd
}

func newOutboxCmd(o *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "List messages waiting to be pushed, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withApp(cmd, func(ctx context.Context, a *app.App, _ config.EffectiveConfigResult) error {
				rows, err := a.Store().ListOutbox(ctx, limit)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tCONVERSATION\tWAITING\tREASON")
				for _, m := range rows {
					reason := "insert"
					if m.Synced {
						reason = "update"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.ID, m.ConversationID, humanize.Time(m.UpdatedAt), reason)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s queued\n", humanize.Comma(int64(len(rows))))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows (0 lists all)")
	return cmd
}

func newResetCmd(o *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Purge every local message, including unsynced ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("reset deletes unsynced messages for good; repeat with --yes")
			}
			return o.withApp(cmd, func(ctx context.Context, a *app.App, eff config.EffectiveConfigResult) error {
				if err := a.Engine().Reset(ctx); err != nil {
					return err
				}
				logger.AuditEvent("cli_reset", "db_path", eff.DBPath)
				fmt.Fprintln(cmd.OutOrStdout(), "local store reset")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the purge")
	return cmd
}

func newInspectCmd(o *rootOptions) *cobra.Command {
	var (
		prefix string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print store statistics and raw keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withApp(cmd, func(ctx context.Context, a *app.App, eff config.EffectiveConfigResult) error {
				st, err := a.Engine().Stats(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "store:          %s\n", eff.DBPath)
				fmt.Fprintf(out, "messages:       %s\n", humanize.Comma(int64(st.Store.Messages)))
				fmt.Fprintf(out, "conversations:  %s\n", humanize.Comma(int64(st.Store.Conversations)))
				fmt.Fprintf(out, "pending:        %d\n", st.Store.Pending)
				fmt.Fprintf(out, "dirty:          %d\n", st.Store.Dirty)
				fmt.Fprintf(out, "deleted:        %d\n", st.Store.Deleted)
				if limit == 0 {
					return nil
				}
				keys, err := a.Store().ListKeys(ctx, prefix, limit)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "\nkeys (prefix %q):\n", prefix)
				for _, k := range keys {
					fmt.Fprintf(out, "  %s%s\n", k, describeKey(k))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "raw key prefix to list")
	cmd.Flags().IntVar(&limit, "keys", 0, "number of raw keys to print")
	return cmd
}

// describeKey annotates message and conversation index keys.
func describeKey(k string) string {
	if id, err := keys.ParseMessageKey(k); err == nil {
		return "  (message " + id + ")"
	}
	if p, err := keys.ParseConversationIx(k); err == nil {
		return fmt.Sprintf("  (%s, seq %d, %s)", p.ConversationID, p.Seq, p.CreatedAt.Format(time.RFC3339))
	}
	return ""
}
