package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loreleaf/tierbot/internal/bus"
	"github.com/loreleaf/tierbot/internal/config"
	"github.com/loreleaf/tierbot/internal/gateway"
	"github.com/loreleaf/tierbot/internal/llm"
	"github.com/loreleaf/tierbot/internal/memory"
	"github.com/loreleaf/tierbot/internal/persona"
)

var rootCmd = &cobra.Command{
	Use:   "tierbot",
	Short: "tierbot - chat companion with tiered conversation memory",
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the full gateway (channels + daily sweep)",
	RunE:  runGateway,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat in single message or REPL mode",
	RunE:  runChat,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and persona cards",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tierbot status",
	RunE:  runStatus,
}

var messageFlag string

func init() {
	chatCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Single message to send")
	rootCmd.AddCommand(gatewayCmd, chatCmd, onboardCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Provider.APIKey == "" {
		return fmt.Errorf("API key not set. Run 'tierbot onboard' or set TIERBOT_API_KEY")
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

// ChatOptions for running chat with custom dependencies
type ChatOptions struct {
	Client llm.Client
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

func runChat(cmd *cobra.Command, args []string) error {
	return runChatWithOptions(ChatOptions{})
}

// runChatWithOptions runs chat with injectable dependencies for testing
func runChatWithOptions(opts ChatOptions) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Provider.APIKey == "" && opts.Client == nil {
		return fmt.Errorf("API key not set. Run 'tierbot onboard' or set TIERBOT_API_KEY")
	}

	gw, err := gateway.NewWithOptions(cfg, gateway.Options{Client: opts.Client})
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	defer gw.Shutdown()

	stdin := opts.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	ctx := context.Background()
	ask := func(input string) {
		reply := gw.HandleMessage(ctx, bus.InboundMessage{
			Channel:  "cli",
			SenderID: "local",
			ChatID:   "local",
			Content:  input,
			Language: cfg.Bot.DefaultLanguage,
		})
		if reply != "" {
			fmt.Fprintln(stdout, reply)
		} else {
			fmt.Fprintln(stderr, "Error: empty reply")
		}
	}

	// Single message mode
	if messageFlag != "" {
		ask(messageFlag)
		return nil
	}

	// REPL mode
	fmt.Fprintln(stdout, "tierbot chat (type 'exit' to quit)")
	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprint(stdout, "\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}
		ask(input)
	}
	return nil
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := os.MkdirAll(cfg.Personas.Dir, 0755); err != nil {
		return fmt.Errorf("create personas dir: %w", err)
	}
	if err := os.MkdirAll(cfg.History.Dir, 0755); err != nil {
		return fmt.Errorf("create histories dir: %w", err)
	}

	writeIfNotExists(filepath.Join(cfg.Personas.Dir, "user.yaml"), defaultUserCard)
	writeIfNotExists(filepath.Join(cfg.Personas.Dir, cfg.Bot.Name+".yaml"), defaultCharCard)

	fmt.Printf("Personas ready: %s\n", cfg.Personas.Dir)
	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to set your API key and base URL\n", cfgPath)
	fmt.Println("  2. Or set TIERBOT_API_KEY / TIERBOT_BASE_URL environment variables")
	fmt.Println("  3. Run 'tierbot chat -m \"Hello\"' to test")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Model: %s\n", cfg.Provider.Model)
	if cfg.Provider.APIKey != "" && len(cfg.Provider.APIKey) > 8 {
		masked := cfg.Provider.APIKey[:4] + "..." + cfg.Provider.APIKey[len(cfg.Provider.APIKey)-4:]
		fmt.Printf("API Key: %s\n", masked)
	} else if cfg.Provider.APIKey != "" {
		fmt.Println("API Key: set")
	} else {
		fmt.Println("API Key: not set")
	}
	fmt.Printf("Telegram: enabled=%v\n", cfg.Channels.Telegram.Enabled)
	fmt.Printf("CLI: enabled=%v\n", cfg.Channels.CLI.Enabled)
	fmt.Printf("History: enabled=%v dir=%s\n", cfg.History.Enabled, cfg.History.Dir)
	fmt.Printf("Memory: tier0=%d tier1=%d batch=%d\n",
		cfg.Memory.Tier0Max, cfg.Memory.Tier1Max, cfg.Memory.BatchSize)

	user, err := persona.LoadOrDefault(cfg.Personas.Dir, "user")
	if err == nil {
		fmt.Printf("User persona: %s\n", user.DisplayName())
	}
	char, err := persona.LoadOrDefault(cfg.Personas.Dir, cfg.Bot.Name)
	if err == nil {
		fmt.Printf("Char persona: %s\n", char.DisplayName())
	}
	fmt.Printf("Load window: %d turns\n", memory.LoadWindow(cfg.Memory))

	return nil
}

func writeIfNotExists(path, content string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		_ = os.WriteFile(path, []byte(content), 0644)
	}
}

const defaultUserCard = `identity:
  name: User
language: en
timezone: UTC
`

const defaultCharCard = `identity:
  name: Tier
  role: companion
language: en
context: A patient, curious conversation partner with a long memory.
templates:
  jailbreak: |
    You are {{.Char.Identity.Name}}, talking with {{.User.Identity.Name}}.
    It is {{.Now.Weekday}}, {{.Now.Date}}, {{.Now.Hour}}:{{printf "%02d" .Now.Minute}}.
    Stay in character and answer naturally.
  userContext: |
    {{if .Elapsed}}Your last reply was {{.Elapsed}} seconds ago.{{end}}
`
