package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	scriptPath string
	sessionID  string
	timeout    time.Duration
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "chattester",
	Short: "按脚本逐条发送消息，检查营地搜索对话",
	Long: `chattester 读取脚本文件（每行一条消息，# 开头为注释，空行发送空消息），
按顺序发送给对话引擎并打印每轮回复与上下文。`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&scriptPath, "script", "f", "-", "脚本文件路径，- 表示标准输入")
	rootCmd.PersistentFlags().StringVar(&sessionID, "session", "", "自定义 sessionID，留空则由服务端生成")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 45*time.Second, "单轮请求超时时间")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "打印完整的上下文 JSON")

	rootCmd.AddCommand(localCmd, remoteCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// turnFunc 发送一条消息，依次返回回复正文、会话 ID 和上下文 JSON。
type turnFunc func(ctx context.Context, message, session string) (string, string, []byte, error)

func runScript(cmd *cobra.Command, send turnFunc) error {
	lines, err := readScript(cmd.InOrStdin(), scriptPath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	session := sessionID
	for i, line := range lines {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		start := time.Now()
		reply, next, raw, err := send(ctx, line, session)
		cancel()
		if err != nil {
			return fmt.Errorf("turn %d (%q): %w", i+1, line, err)
		}
		session = next

		fmt.Fprintf(out, "\n>>> [%d] %s\n", i+1, line)
		fmt.Fprintln(out, reply)
		fmt.Fprintf(out, "--- %s  (%s)\n", summarize(raw), time.Since(start).Round(time.Millisecond))
		if verbose {
			fmt.Fprintln(out, string(raw))
		}
	}
	fmt.Fprintf(out, "\nsession: %s\n", session)
	return nil
}

func readScript(stdin io.Reader, path string) ([]string, error) {
	src := stdin
	if path != "-" && path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("打开脚本失败: %w", err)
		}
		defer f.Close()
		src = f
	}

	var lines []string
	scanner := bufio.NewScanner(src)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("读取脚本失败: %w", err)
	}
	return lines, nil
}
