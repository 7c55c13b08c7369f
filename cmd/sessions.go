// Package cmd 实现 CLI 命令
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"agent-console-cli/internal/api"
	"agent-console-cli/internal/config"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "列出服务器上的全部会话",
	Long: `列出服务器上的全部会话及其状态。

进入交互式控制台后可用 /switch 切换会话。`,
	Run: runSessions,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(cmd *cobra.Command, args []string) {
	timeout := time.Duration(config.GetTimeoutSeconds()) * time.Second
	client := api.NewClientWithTimeout(config.GetServerURL(), timeout)

	sessions, err := client.ListSessions()
	if err != nil {
		fmt.Fprintf(os.Stderr, "✗ %v\n", err)
		os.Exit(1)
	}

	if len(sessions) == 0 {
		fmt.Println("（没有会话）")
		return
	}

	for i, s := range sessions {
		fmt.Printf("  [%d] %s (%s) 创建于 %s\n", i+1, s.Title, s.Status, s.CreatedAt.Format("2006-01-02 15:04"))
	}
}
