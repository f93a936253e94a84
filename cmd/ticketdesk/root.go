package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// ヘルプ表示でのサブコマンドのグループ。
const (
	serverGroupID = "server"
	localGroupID  = "local"
)

// options はすべてのサブコマンドで共有するフラグ。
type options struct {
	profile string
	output  string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "ticketdesk",
		Short: "チケット管理サーバーとローカルCLI",
		Long: `ticketdesk はチケットを管理するためのツールです。

serve / worker / migrate はHTTP APIとその保守ジョブを起動します。
signup / login / ticket などのコマンドは、ローカルのプロファイル
（SQLiteファイル）上でブラウザと同じ操作を行います。`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.validateOutput()
		},
	}

	root.PersistentFlags().StringVar(&opts.profile, "profile", defaultProfilePath(), "ローカルプロファイルのパス")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", formatTable, "出力形式 (table|json|yaml)")

	root.AddGroup(
		&cobra.Group{ID: serverGroupID, Title: "Server Commands:"},
		&cobra.Group{ID: localGroupID, Title: "Local Profile Commands:"},
	)
	root.AddCommand(serverCmds()...)
	for _, cmd := range []*cobra.Command{
		signupCmd(opts),
		loginCmd(opts),
		logoutCmd(opts),
		whoamiCmd(opts),
		ticketCmd(opts),
	} {
		cmd.GroupID = localGroupID
		root.AddCommand(cmd)
	}
	return root
}

// defaultProfilePath は ~/.ticketdesk/profile.db を返す。
// ホームディレクトリが取得できない場合はカレントディレクトリを使う。
func defaultProfilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".ticketdesk", "profile.db")
	}
	return filepath.Join(home, ".ticketdesk", "profile.db")
}

// validateOutput は--outputの値を検証する。
func (o *options) validateOutput() error {
	switch o.output {
	case formatTable, formatJSON, formatYAML:
		return nil
	default:
		return fmt.Errorf("unsupported output format %q (table, json, yaml)", o.output)
	}
}
