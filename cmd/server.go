package cmd

import (
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "启动 MediaGuard 服务",
	Long:    `启动 HTTP 服务，提供上传、推流、RPC 和状态推送接口，并运行后台转写与分析任务。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
