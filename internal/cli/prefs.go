package cli

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tOgg1/chatsync/internal/models"
	"github.com/tOgg1/chatsync/internal/prefs"
)

var muteGroup bool

func init() {
	rootCmd.AddCommand(seenCmd)
	rootCmd.AddCommand(muteCmd)
	rootCmd.AddCommand(unmuteCmd)
	rootCmd.AddCommand(unreadCmd)

	muteCmd.Flags().BoolVar(&muteGroup, "group", false, "the id is a group, not a contact")
	unmuteCmd.Flags().BoolVar(&muteGroup, "group", false, "the id is a group, not a contact")
}

func muteKind() models.ConversationKind {
	if muteGroup {
		return models.ConversationGroup
	}
	return models.ConversationDirect
}

func withPrefs(cmd *cobra.Command, fn func(p *prefs.Prefs) error) error {
	ctx := cmd.Context()
	storage, err := openSharedStorage(ctx, appConfig)
	if err != nil {
		return err
	}
	p := prefs.New(ctx, storage)
	defer func() {
		p.Close()
		_ = storage.Close()
	}()
	return fn(p)
}

var seenCmd = &cobra.Command{
	Use:   "seen",
	Short: "Mark notifications seen in every tab",
	Long:  "Write notificationsSeen=true to the shared storage. Every running tab resets its unread tally and stops flashing.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPrefs(cmd, func(p *prefs.Prefs) error {
			if err := p.SetNotificationsSeen(cmd.Context(), true); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "notifications marked seen")
			return nil
		})
	},
}

var muteCmd = &cobra.Command{
	Use:   "mute [id]",
	Short: "Mute a contact or group, or list mutes",
	Long:  "Add a contact (or a group with --group) to the shared mute list. Without an id, print the current list.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPrefs(cmd, func(p *prefs.Prefs) error {
			kind := muteKind()
			if len(args) == 0 {
				return printMuted(cmd, kind, p.Muted(kind))
			}
			if err := p.SetMuted(cmd.Context(), kind, args[0], true); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "muted %s %s\n", kind, args[0])
			return nil
		})
	},
}

var unmuteCmd = &cobra.Command{
	Use:   "unmute <id>",
	Short: "Unmute a contact or group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPrefs(cmd, func(p *prefs.Prefs) error {
			kind := muteKind()
			if err := p.SetMuted(cmd.Context(), kind, args[0], false); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "unmuted %s %s\n", kind, args[0])
			return nil
		})
	},
}

func printMuted(cmd *cobra.Command, kind models.ConversationKind, ids []string) error {
	out := cmd.OutOrStdout()
	if jsonOutput {
		if ids == nil {
			ids = []string{}
		}
		return writeJSON(out, map[string]interface{}{"kind": kind, "muted": ids})
	}
	if len(ids) == 0 {
		fmt.Fprintf(out, "No muted %s conversations.\n", kind)
		return nil
	}
	rows := make([][]string, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, []string{id, string(kind)})
	}
	return writeTable(out, []string{"ID", "KIND"}, rows)
}

var unreadCmd = &cobra.Command{
	Use:   "unread",
	Short: "Print persisted direct unread counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPrefs(cmd, func(p *prefs.Prefs) error {
			counts, err := p.UnreadCounts(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, counts)
			}
			if len(counts) == 0 {
				fmt.Fprintln(out, "No unread counts stored.")
				return nil
			}
			ids := make([]string, 0, len(counts))
			for id := range counts {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			rows := make([][]string, 0, len(ids))
			for _, id := range ids {
				rows = append(rows, []string{id, strconv.Itoa(counts[id])})
			}
			return writeTable(out, []string{"CONTACT", "UNREAD"}, rows)
		})
	},
}
