// Package cmd 实现 CLI 命令
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"agent-console-cli/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "显示当前配置",
	Long: `显示当前配置信息。

包括：
- 服务器地址
- WebSocket 地址
- 远程桌面地址
- 请求超时`,
	Run: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	fmt.Println("╔════════════════════════════════════════════════╗")
	fmt.Println("║           Agent Console 配置信息                ║")
	fmt.Println("╠════════════════════════════════════════════════╣")
	fmt.Printf("║  服务器: %s\n", config.GetServerURL())
	fmt.Printf("║  推送通道: %s\n", config.GetWSURL())
	fmt.Printf("║  远程桌面: %s\n", config.GetVNCURL())
	fmt.Printf("║  请求超时: %d 秒\n", config.GetTimeoutSeconds())
	fmt.Println("╚════════════════════════════════════════════════╝")
}
