// Package cmd 实现 CLI 命令
package cmd

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"agent-console-cli/internal/api"
	"agent-console-cli/internal/config"
	"agent-console-cli/internal/event"
	"agent-console-cli/internal/model"
	"agent-console-cli/internal/session"
	"agent-console-cli/internal/store"
	"agent-console-cli/internal/ws"
)

var rootCmd = &cobra.Command{
	Use:   "agent-console",
	Short: "Agent Console - 远程虚拟机 AI 代理监督台",
	Long: `Agent Console CLI 客户端

用于监督运行在远程虚拟机上的 AI 代理：实时查看对话、管理会话和文件。
远程桌面画面通过浏览器访问，地址见 'agent-console status'。

直接运行即可进入交互式控制台。`,
	Run: runInteractive,
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// 全局参数
	rootCmd.PersistentFlags().StringP("server", "s", "", "服务器地址 (默认: http://127.0.0.1:8000)")
}

func initConfig() {
	if err := config.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "初始化配置失败: %v\n", err)
		os.Exit(1)
	}

	// 如果指定了服务器地址，更新配置
	if server, _ := rootCmd.PersistentFlags().GetString("server"); server != "" {
		config.SetServerURL(server)
	}
}

// console 交互式控制台
// 持有同步核心的各组件引用，依赖在这里显式组装
type console struct {
	controller *session.Controller
	messages   *store.MessageStore
	files      *store.FileStore
	conn       *ws.Manager

	mu      sync.Mutex
	printed int // 已渲染的消息条数
}

// runInteractive 交互式主流程
func runInteractive(cmd *cobra.Command, args []string) {
	printBanner()

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintln(os.Stderr, "✗ 需要在交互式终端中运行")
		os.Exit(1)
	}

	// 组装同步核心：依赖全部在应用入口显式注入
	timeout := time.Duration(config.GetTimeoutSeconds()) * time.Second
	apiClient := api.NewClientWithTimeout(config.GetServerURL(), timeout)
	connMgr := ws.NewManager(config.GetWSURL())
	messages := store.NewMessageStore()
	files := store.NewFileStore()
	controller := session.NewController(apiClient, connMgr, messages, files, consoleNotifier{})
	router := event.NewRouter(messages, files, controller)
	connMgr.OnFrame(router.Route)

	c := &console{
		controller: controller,
		messages:   messages,
		files:      files,
		conn:       connMgr,
	}

	connMgr.OnState(func(state ws.State, sessionID string) {
		switch state {
		case ws.StateOpen:
			fmt.Println("🌐 推送通道已连接")
		case ws.StateClosed:
			fmt.Println("⚠️  推送通道已断开，重新选择会话可重连")
		}
	})
	connMgr.OnError(func(err error) {
		fmt.Printf("❌ 连接错误: %v\n", err)
	})
	messages.OnChange(c.renderNewMessages)

	fmt.Printf("📡 服务器: %s\n", config.GetServerURL())
	fmt.Printf("🖥️  远程桌面: %s\n", config.GetVNCURL())
	fmt.Println()

	// 拉取会话列表并选择会话
	if err := controller.Refresh(); err != nil {
		fmt.Fprintln(os.Stderr, "✗ 无法连接服务器，请检查 'agent-console status' 中的配置")
		os.Exit(1)
	}
	c.pickSession()

	// 退出信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println()
		fmt.Println("正在断开连接...")
		controller.Close()
		os.Exit(0)
	}()

	c.loop()

	fmt.Println("正在断开连接...")
	controller.Close()
	fmt.Println("✅ 已断开连接，再见！")
}

func printBanner() {
	fmt.Println()
	fmt.Println("╔════════════════════════════════════════════════╗")
	fmt.Println("║         🤖 Agent Console CLI 客户端             ║")
	fmt.Println("║                                                ║")
	fmt.Println("║   监督远程虚拟机上的 AI 代理                      ║")
	fmt.Println("╚════════════════════════════════════════════════╝")
	fmt.Println()
}

// consoleNotifier 控制台通知输出
type consoleNotifier struct{}

func (consoleNotifier) Success(msg string) { fmt.Printf("✅ %s\n", msg) }
func (consoleNotifier) Error(msg string)   { fmt.Printf("❌ %s\n", msg) }

// pickSession 引导用户选择或创建会话
func (c *console) pickSession() {
	sessions := c.controller.Sessions()
	if len(sessions) == 0 {
		fmt.Println("当前没有会话")
		title := readLine("请输入新会话标题: ")
		if title == "" {
			title = "新会话"
		}
		if _, err := c.controller.Create(title); err != nil {
			os.Exit(1)
		}
		c.resetRendered()
		return
	}

	fmt.Println("现有会话:")
	for i, s := range sessions {
		fmt.Printf("  [%d] %s (%s)\n", i+1, s.Title, s.Status)
	}
	answer := readLine("选择会话编号，或输入新标题创建会话: ")
	if n, err := strconv.Atoi(answer); err == nil && n >= 1 && n <= len(sessions) {
		s := sessions[n-1]
		c.resetRendered()
		c.controller.Select(&s)
		return
	}
	if answer == "" {
		answer = "新会话"
	}
	if _, err := c.controller.Create(answer); err != nil {
		os.Exit(1)
	}
	c.resetRendered()
}

// loop 控制台主循环：普通输入作为消息发送，斜杠开头为命令
func (c *console) loop() {
	fmt.Println()
	fmt.Println("输入消息与代理对话，/help 查看命令，/quit 退出")
	printSeparator()

	reader := bufio.NewReader(os.Stdin)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if !c.handleCommand(line) {
				return
			}
			continue
		}

		if err := c.controller.SendMessage(line); err != nil {
			fmt.Printf("❌ %v\n", err)
		}
	}
}

// handleCommand 处理斜杠命令，返回 false 表示退出
func (c *console) handleCommand(line string) bool {
	parts := strings.SplitN(line, " ", 2)
	command := parts[0]
	arg := ""
	if len(parts) > 1 {
		arg = strings.TrimSpace(parts[1])
	}

	switch command {
	case "/quit", "/exit":
		return false

	case "/help":
		printHelp()

	case "/sessions":
		c.controller.Refresh()
		active := c.controller.ActiveID()
		for i, s := range c.controller.Sessions() {
			marker := "  "
			if s.ID == active {
				marker = "▶ "
			}
			fmt.Printf("%s[%d] %s (%s)\n", marker, i+1, s.Title, s.Status)
		}

	case "/switch":
		sessions := c.controller.Sessions()
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 || n > len(sessions) {
			fmt.Println("❌ 用法: /switch <会话编号>")
			return true
		}
		s := sessions[n-1]
		c.resetRendered()
		c.controller.Select(&s)
		fmt.Printf("▶ 已切换到会话: %s\n", s.Title)

	case "/new":
		if arg == "" {
			fmt.Println("❌ 用法: /new <标题>")
			return true
		}
		c.resetRendered()
		if s, err := c.controller.Create(arg); err == nil {
			fmt.Printf("✅ 已创建会话: %s\n", s.Title)
		}

	case "/rename":
		if arg == "" {
			fmt.Println("❌ 用法: /rename <新标题>")
			return true
		}
		if err := c.controller.Update(api.SessionPatch{Title: &arg}); err == nil {
			fmt.Println("✅ 会话已重命名")
		}

	case "/delete":
		active := c.controller.Active()
		if active == nil {
			fmt.Println("❌ 当前没有活跃会话")
			return true
		}
		if err := c.controller.Delete(active.ID); err == nil {
			fmt.Println("✅ 会话已删除")
			c.pickSession()
		}

	case "/files":
		c.printFiles()

	case "/stage":
		if arg == "" {
			fmt.Println("❌ 用法: /stage <文件路径>")
			return true
		}
		if staged, err := c.controller.StageFile(arg); err != nil {
			fmt.Printf("❌ %v\n", err)
		} else {
			fmt.Printf("📦 已加入待上传: %s (%s)\n", staged.Filename, formatSize(staged.Size))
		}

	case "/upload":
		if err := c.controller.UploadStaged(); err != nil {
			fmt.Printf("❌ %v\n", err)
		}

	case "/unstage":
		c.unstage(arg)

	case "/rm":
		c.removeFile(arg)

	case "/desktop":
		fmt.Printf("🖥️  远程桌面: %s\n", config.GetVNCURL())

	default:
		fmt.Printf("⚠️  未知命令: %s，/help 查看命令\n", command)
	}
	return true
}

func printHelp() {
	fmt.Println("命令:")
	fmt.Println("  /sessions          列出会话（▶ 为活跃会话）")
	fmt.Println("  /switch <编号>     切换会话")
	fmt.Println("  /new <标题>        创建并切换到新会话")
	fmt.Println("  /rename <标题>     重命名活跃会话")
	fmt.Println("  /delete            删除活跃会话")
	fmt.Println("  /files             列出文件（含待上传）")
	fmt.Println("  /stage <路径>      把本地文件加入待上传列表")
	fmt.Println("  /unstage <编号>    丢弃待上传文件")
	fmt.Println("  /upload            上传全部待上传文件")
	fmt.Println("  /rm <编号>         删除已上传文件")
	fmt.Println("  /desktop           显示远程桌面地址")
	fmt.Println("  /quit              退出")
}

// printFiles 列出待上传与已确认文件
func (c *console) printFiles() {
	sessionID := c.controller.ActiveID()
	if sessionID == "" {
		fmt.Println("❌ 当前没有活跃会话")
		return
	}

	staged, _ := c.files.Staged(sessionID)
	records, _ := c.files.Files(sessionID)
	if len(staged) == 0 && len(records) == 0 {
		fmt.Println("（没有文件）")
		return
	}
	for i, f := range staged {
		fmt.Printf("  [待上传 %d] %s (%s)\n", i+1, f.Filename, formatSize(f.Size))
	}
	for i, f := range records {
		fmt.Printf("  [%d] %s (%s)\n", i+1, f.Filename, formatSize(f.Size))
	}
}

func (c *console) unstage(arg string) {
	sessionID := c.controller.ActiveID()
	if sessionID == "" {
		fmt.Println("❌ 当前没有活跃会话")
		return
	}
	staged, _ := c.files.Staged(sessionID)
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(staged) {
		fmt.Println("❌ 用法: /unstage <待上传编号>")
		return
	}
	if err := c.files.DiscardStaged(sessionID, staged[n-1].LocalID); err != nil {
		fmt.Printf("❌ %v\n", err)
		return
	}
	fmt.Printf("🗑  已丢弃: %s\n", staged[n-1].Filename)
}

func (c *console) removeFile(arg string) {
	sessionID := c.controller.ActiveID()
	if sessionID == "" {
		fmt.Println("❌ 当前没有活跃会话")
		return
	}
	records, _ := c.files.Files(sessionID)
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(records) {
		fmt.Println("❌ 用法: /rm <文件编号>")
		return
	}
	c.controller.DeleteFile(records[n-1].ID)
}

// renderNewMessages 渲染投影中新增的消息
// 投影变更回调可能来自推送通道协程，也可能来自主循环
func (c *console) renderNewMessages() {
	sessionID := c.controller.ActiveID()
	if sessionID == "" {
		return
	}
	messages, err := c.messages.Messages(sessionID)
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.printed > len(messages) {
		c.printed = 0
	}
	for _, msg := range messages[c.printed:] {
		switch msg.Role {
		case model.RoleAssistant:
			fmt.Printf("🤖 %s\n", msg.Content)
		case model.RoleUser:
			fmt.Printf("🧑 %s\n", msg.Content)
		}
	}
	c.printed = len(messages)
}

// resetRendered 会话切换后重置渲染进度
func (c *console) resetRendered() {
	c.mu.Lock()
	c.printed = 0
	c.mu.Unlock()
}

func printSeparator() {
	width := 40
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 && w < 120 {
		width = w
	}
	fmt.Println(strings.Repeat("─", width))
}

func readLine(prompt string) string {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMG"[exp])
}
