package main

import (
	"github.com/spf13/cobra"

	"github.com/hitoshi/ticketdesk/internal/app"
)

// serverCmds はapp.Runに委譲するサーバー系サブコマンドを返す。
// 設定は環境変数から読み込む。
func serverCmds() []*cobra.Command {
	infos := app.Commands()
	cmds := make([]*cobra.Command, 0, len(infos))
	for _, info := range infos {
		name := string(info.Command)
		cmds = append(cmds, &cobra.Command{
			Use:     name,
			Short:   info.Summary,
			GroupID: serverGroupID,
			Args:    cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return app.Run(cmd.OutOrStdout(), []string{name})
			},
		})
	}
	return cmds
}
