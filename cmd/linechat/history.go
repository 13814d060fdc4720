package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"linechat/internal/channel"
	"linechat/internal/config"
	"linechat/internal/memory"
)

func openHistory(ctx context.Context, cfg *config.Config) (*memory.SQLStore, error) {
	store, err := memory.Open(ctx, memory.StoreConfig{
		Driver: cfg.History.Driver,
		DSN:    cfg.History.DSN,
		Table:  cfg.History.Table,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("history store: %w", err)
	}
	return store, nil
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and maintain stored conversation turns",
	}
	cmd.AddCommand(historyShowCmd())
	cmd.AddCommand(historyPruneCmd())
	return cmd
}

func historyShowCmd() *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <userID>",
		Short: "Show the stored turns of a LINE user, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			ctx := cmd.Context()
			store, err := openHistory(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			turns, err := store.ListTurns(ctx, args[0], limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(turns)
			}
			if len(turns) == 0 {
				fmt.Fprintf(out, "No turns stored for %s\n", args[0])
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tROLE\tCONTENT")
			for _, t := range turns {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", t.CreatedAt.Local().Format(time.DateTime), t.Role, oneLine(t.Content, 80))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", memory.HistoryWindow, "number of most recent turns to show (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print turns as JSON")
	return cmd
}

func historyPruneCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete turns older than history.retention (or --older-than)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			maxAge := olderThan
			if maxAge == 0 {
				if cfg.History.Retention == "" {
					return fmt.Errorf("no retention configured: set history.retention or pass --older-than")
				}
				// Validated by config.Load.
				maxAge, _ = time.ParseDuration(cfg.History.Retention)
			}

			ctx := cmd.Context()
			store, err := openHistory(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			removed, err := store.Prune(ctx, maxAge)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d turn(s) older than %s\n", removed, maxAge)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "override history.retention (e.g. 720h)")
	return cmd
}

// oneLine flattens s to a single line of at most n runes.
func oneLine(s string, n int) string {
	r := []rune(s)
	for i, c := range r {
		if c == '\n' || c == '\r' || c == '\t' {
			r[i] = ' '
		}
	}
	if len(r) > n {
		return string(r[:n]) + "…"
	}
	return string(r)
}

func signCmd() *cobra.Command {
	var secret string

	cmd := &cobra.Command{
		Use:   "sign <file>",
		Short: "Print the X-Line-Signature for a webhook body ('-' reads stdin)",
		Long: `Computes the signature LINE would send for the given request body, for
replaying webhook deliveries with curl. The secret defaults to line.channelSecret.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body []byte
			var err error
			if args[0] == "-" {
				body, err = io.ReadAll(cmd.InOrStdin())
			} else {
				body, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("read body: %w", err)
			}

			if secret == "" {
				cfg, err := config.Load(resolveConfigPath())
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				secret = cfg.LINE.ChannelSecret
			}
			if !config.IsSet(secret) {
				return fmt.Errorf("channel secret not set: pass --secret or set line.channelSecret")
			}

			fmt.Fprintln(cmd.OutOrStdout(), channel.Sign(body, secret))
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "channel secret (default: line.channelSecret)")
	return cmd
}
