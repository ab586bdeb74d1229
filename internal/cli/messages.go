package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/juniormsyoka/med-assistant-front-sub000/internal/app"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/config"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/models"
)

func userOr(flag string, eff config.EffectiveConfigResult) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if eff.Config.User.ID != "" {
		return eff.Config.User.ID, nil
	}
	return "", errors.New("no user: pass --user or set user.id (CHATSYNC_USER_ID)")
}

func newSendCmd(o *rootOptions) *cobra.Command {
	var (
		user   string
		system bool
		format string
	)
	cmd := &cobra.Command{
		Use:   "send <conversation-id> <text...>",
		Short: "Append a message to the local store and queue it for sync",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, func(ctx context.Context, a *app.App, eff config.EffectiveConfigResult) error {
				sender, err := userOr(user, eff)
				if err != nil {
					return err
				}
				text := strings.Join(args[1:], " ")
				var m models.Message
				if system {
					m, err = a.Engine().AppendSystem(ctx, args[0], sender, text)
				} else {
					m, err = a.Engine().AppendOutgoing(ctx, args[0], sender, text)
				}
				if err != nil {
					return err
				}
				return printMessages(cmd.OutOrStdout(), format, []models.Message{m})
			})
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "sender id (default user.id)")
	cmd.Flags().BoolVar(&system, "system", false, "append as a system message")
	cmd.Flags().StringVarP(&format, "output", "o", "table", "output format: table, json or yaml")
	return cmd
}

func newHistoryCmd(o *rootOptions) *cobra.Command {
	var (
		limit, offset int
		format        string
	)
	cmd := &cobra.Command{
		Use:   "history <conversation-id>",
		Short: "List a conversation from the local store, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, func(ctx context.Context, a *app.App, _ config.EffectiveConfigResult) error {
				ms, page, err := a.Engine().ListHistory(ctx, args[0], limit, offset)
				if err != nil {
					return err
				}
				if err := printMessages(cmd.OutOrStdout(), format, ms); err != nil {
					return err
				}
				if format == "table" && page.HasMore {
					fmt.Fprintf(cmd.OutOrStdout(), "... more (next --offset %d)\n", offset+page.Count)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	cmd.Flags().StringVarP(&format, "output", "o", "table", "output format: table, json or yaml")
	return cmd
}

// mutation is the shared shape of edit, delete and restore.
type mutation func(ctx context.Context, a *app.App, id string, args []string) (models.Message, bool, error)

func newMutationCmd(o *rootOptions, use, short string, args cobra.PositionalArgs, fn mutation) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, func(ctx context.Context, a *app.App, _ config.EffectiveConfigResult) error {
				m, found, err := fn(ctx, a, args[0], args[1:])
				if err != nil {
					return err
				}
				if !found {
					return errors.Newf("message %s not found", args[0])
				}
				return printMessages(cmd.OutOrStdout(), format, []models.Message{m})
			})
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", "table", "output format: table, json or yaml")
	return cmd
}

func newEditCmd(o *rootOptions) *cobra.Command {
	return newMutationCmd(o, "edit <message-id> <text...>", "Replace the text of a message",
		cobra.MinimumNArgs(2),
		func(ctx context.Context, a *app.App, id string, rest []string) (models.Message, bool, error) {
			return a.Engine().EditMessage(ctx, id, strings.Join(rest, " "))
		})
}

func newDeleteCmd(o *rootOptions) *cobra.Command {
	return newMutationCmd(o, "delete <message-id>", "Soft delete a message",
		cobra.ExactArgs(1),
		func(ctx context.Context, a *app.App, id string, _ []string) (models.Message, bool, error) {
			return a.Engine().SoftDelete(ctx, id)
		})
}

func newRestoreCmd(o *rootOptions) *cobra.Command {
	return newMutationCmd(o, "restore <message-id>", "Restore a soft deleted message",
		cobra.ExactArgs(1),
		func(ctx context.Context, a *app.App, id string, _ []string) (models.Message, bool, error) {
			return a.Engine().Restore(ctx, id)
		})
}

func newReadCmd(o *rootOptions) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "read <conversation-id>",
		Short: "Record that the user has read a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, func(ctx context.Context, a *app.App, eff config.EffectiveConfigResult) error {
				reader, err := userOr(user, eff)
				if err != nil {
					return err
				}
				if err := a.Engine().MarkRead(ctx, args[0], reader); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "marked %s read for %s\n", args[0], reader)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "reader id (default user.id)")
	return cmd
}
