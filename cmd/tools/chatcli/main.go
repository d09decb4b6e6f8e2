// chatcli 是调试用的命令行客户端：通过 HTTP 接口发送对话回合、管理会话历史，
// 也可以绕过服务器直接测试火山引擎 ASR/TTS。
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/gemini-assistant/backend/internal/logger"
)

type options struct {
	server  string
	verbose bool
}

func main() {
	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file, using system environment variables", "err", err)
	}

	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:          "chatcli",
		Short:        "Command-line client for the Gemini assistant backend",
		SilenceUsage: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if opts.verbose {
				logger.Configure("debug")
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.server, "server", envOr("CHATCLI_SERVER", "http://localhost:8080"), "Backend base URL")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose output")

	rootCmd.AddCommand(newSendCommand(opts))
	rootCmd.AddCommand(newSessionsCommand(opts))
	rootCmd.AddCommand(newSpeechCommand())

	return rootCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
