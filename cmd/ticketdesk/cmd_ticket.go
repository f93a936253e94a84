package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hitoshi/ticketdesk/internal/importer"
	"github.com/hitoshi/ticketdesk/internal/metrics"
	"github.com/hitoshi/ticketdesk/internal/model"
	"github.com/hitoshi/ticketdesk/internal/security"
)

func ticketCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "ticket",
		Aliases: []string{"tickets", "t"},
		Short:   "チケットを操作する（要ログイン）",
	}

	cmd.AddCommand(
		ticketListCmd(opts),
		ticketShowCmd(opts),
		ticketCreateCmd(opts),
		ticketUpdateCmd(opts),
		ticketDeleteCmd(opts),
		ticketSummaryCmd(opts),
		ticketImportCmd(opts),
	)
	return cmd
}

// withTickets はログイン済みでチケット一覧を読み込めているプロファイルでfnを実行する。
func withTickets(cmd *cobra.Command, opts *options, fn func(*profile) error) error {
	return withProfile(cmd.Context(), opts, cmd.ErrOrStderr(), func(p *profile) error {
		if err := p.requireSession(); err != nil {
			return err
		}
		if err := p.requireTickets(cmd.Context()); err != nil {
			return err
		}
		return fn(p)
	})
}

func ticketListCmd(opts *options) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "チケットを作成順に一覧表示する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTickets(cmd, opts, func(p *profile) error {
				tickets := p.ws.Tickets.List()
				if status != "" {
					s := model.TicketStatus(status)
					if !s.Valid() {
						return model.NewInvalidStatusError(status)
					}
					tickets = p.ws.Tickets.GetByStatus(s)
				}
				return newPrinter(cmd.OutOrStdout(), opts.output).tickets(tickets)
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "ステータスで絞り込む (open|in_progress|closed)")
	return cmd
}

func ticketShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "チケットを1件表示する",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTickets(cmd, opts, func(p *profile) error {
				t, ok := p.ws.Tickets.GetByID(args[0])
				if !ok {
					return model.NewTicketNotFoundError(args[0])
				}
				return newPrinter(cmd.OutOrStdout(), opts.output).ticket(t)
			})
		},
	}
}

func ticketCreateCmd(opts *options) *cobra.Command {
	var in model.TicketInput
	var status string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "チケットを作成する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Status = model.TicketStatus(status)
			return withTickets(cmd, opts, func(p *profile) error {
				t, err := p.ws.Tickets.Create(cmd.Context(), in)
				if err != nil {
					return err
				}
				return newPrinter(cmd.OutOrStdout(), opts.output).ticket(*t)
			})
		},
	}

	cmd.Flags().StringVar(&in.Title, "title", "", "タイトル（1〜200文字）")
	cmd.Flags().StringVar(&in.Description, "description", "", "説明（1000文字まで）")
	cmd.Flags().StringVar(&status, "status", string(model.TicketStatusOpen), "ステータス (open|in_progress|closed)")
	return cmd
}

func ticketUpdateCmd(opts *options) *cobra.Command {
	var title, description, status string

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "指定したフィールドだけを更新する",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch model.TicketPatch
			flags := cmd.Flags()
			if flags.Changed("title") {
				patch.Title = &title
			}
			if flags.Changed("description") {
				patch.Description = &description
			}
			if flags.Changed("status") {
				s := model.TicketStatus(status)
				patch.Status = &s
			}
			if patch.IsEmpty() {
				return errors.New("nothing to update: specify --title, --description or --status")
			}

			return withTickets(cmd, opts, func(p *profile) error {
				t, err := p.ws.Tickets.Update(cmd.Context(), args[0], patch)
				if err != nil {
					return err
				}
				if t == nil {
					return model.NewTicketNotFoundError(args[0])
				}
				return newPrinter(cmd.OutOrStdout(), opts.output).ticket(*t)
			})
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "新しいタイトル")
	cmd.Flags().StringVar(&description, "description", "", "新しい説明")
	cmd.Flags().StringVar(&status, "status", "", "新しいステータス")
	return cmd
}

func ticketDeleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "チケットを削除する",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTickets(cmd, opts, func(p *profile) error {
				return p.ws.Tickets.Delete(cmd.Context(), args[0])
			})
		},
	}
}

func ticketSummaryCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "ステータス別の件数を表示する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTickets(cmd, opts, func(p *profile) error {
				return newPrinter(cmd.OutOrStdout(), opts.output).counts(p.ws.Tickets.Counts())
			})
		},
	}
}

func ticketImportCmd(opts *options) *cobra.Command {
	cfg := importer.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "import <url>",
		Short: "RSS/Atomフィードの項目をチケットとして取り込む",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := importer.NewService(security.NewURLGuard(), metrics.Nop{}, cfg)
			return withTickets(cmd, opts, func(p *profile) error {
				result, err := svc.Import(cmd.Context(), p.ws.Tickets, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d件作成、%d件スキップ\n",
					result.FeedTitle, len(result.Created), result.Skipped)
				return newPrinter(cmd.OutOrStdout(), opts.output).tickets(result.Created)
			})
		},
	}

	cmd.Flags().IntVar(&cfg.MaxItems, "max-items", cfg.MaxItems, "取り込む項目数の上限")
	cmd.Flags().DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "取得のタイムアウト")
	return cmd
}
