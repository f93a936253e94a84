package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hitoshi/ticketdesk/internal/model"
)

func signupCmd(opts *options) *cobra.Command {
	var email, name, password string

	cmd := &cobra.Command{
		Use:   "signup",
		Short: "ユーザーを登録してログインする",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := passwordFrom(cmd.InOrStdin(), password)
			if err != nil {
				return err
			}
			return withProfile(cmd.Context(), opts, cmd.ErrOrStderr(), func(p *profile) error {
				session, err := p.ws.Auth.Signup(cmd.Context(), email, pw, name)
				if err != nil {
					return err
				}
				return newPrinter(cmd.OutOrStdout(), opts.output).session(session)
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "メールアドレス")
	cmd.Flags().StringVar(&name, "name", "", "表示名")
	cmd.Flags().StringVar(&password, "password", "", "パスワード（省略時は標準入力の1行目）")
	return cmd
}

func loginCmd(opts *options) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "メールアドレスとパスワードでログインする",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := passwordFrom(cmd.InOrStdin(), password)
			if err != nil {
				return err
			}
			return withProfile(cmd.Context(), opts, cmd.ErrOrStderr(), func(p *profile) error {
				session, err := p.ws.Auth.Login(cmd.Context(), email, pw)
				if err != nil {
					return err
				}
				return newPrinter(cmd.OutOrStdout(), opts.output).session(session)
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "メールアドレス")
	cmd.Flags().StringVar(&password, "password", "", "パスワード（省略時は標準入力の1行目）")
	return cmd
}

func logoutCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "ログアウトする",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProfile(cmd.Context(), opts, cmd.ErrOrStderr(), func(p *profile) error {
				return p.ws.Auth.Logout(cmd.Context())
			})
		},
	}
}

func whoamiCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "ログイン中のユーザーを表示する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProfile(cmd.Context(), opts, cmd.ErrOrStderr(), func(p *profile) error {
				session, ok := p.ws.Auth.CurrentSession()
				if !ok {
					return model.NewUnauthorizedError()
				}
				return newPrinter(cmd.OutOrStdout(), opts.output).session(session)
			})
		},
	}
}

// passwordFrom はフラグ値、なければ入力の1行目をパスワードとして返す。
func passwordFrom(in io.Reader, flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return "", nil
	}
	return strings.TrimRight(scanner.Text(), "\r"), nil
}
