package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/voxchat/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		out := cmd.OutOrStdout()
		scanner := bufio.NewScanner(cmd.InOrStdin())

		fmt.Fprintln(out, "voxchat setup")
		fmt.Fprintln(out, "Press Enter to accept the default value shown in brackets.")
		fmt.Fprintln(out)

		cfg.HTTP.Listen = prompt(scanner, out, "Listen address", cfg.HTTP.Listen)
		cfg.HTTP.PublicURL = prompt(scanner, out, "Public URL", cfg.HTTP.PublicURL)
		cfg.Dialog.URL = prompt(scanner, out, "Dialog service URL", cfg.Dialog.URL)
		cfg.Chat.ResponderURL = prompt(scanner, out, "Responder URL (optional)", cfg.Chat.ResponderURL)

		if prompt(scanner, out, "Transcribe voice messages (y/n)", yesNo(cfg.Transcription.Enabled)) == "y" {
			cfg.Transcription.Enabled = true
			cfg.Transcription.APIKey = prompt(scanner, out, "OpenAI API key", cfg.Transcription.APIKey)
			cfg.Transcription.Model = prompt(scanner, out, "Transcription model", cfg.Transcription.Model)
		} else {
			cfg.Transcription.Enabled = false
		}

		cfg.Telegram.Token = prompt(scanner, out, "Telegram bot token (optional)", cfg.Telegram.Token)
		if cfg.Telegram.Token != "" {
			raw := prompt(scanner, out, "Telegram chat ID", strconv.FormatInt(cfg.Telegram.ChatID, 10))
			if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
				cfg.Telegram.ChatID = id
			}
		}

		cfg.Mattermost.URL = prompt(scanner, out, "Mattermost URL (optional)", cfg.Mattermost.URL)
		if cfg.Mattermost.URL != "" {
			cfg.Mattermost.Token = prompt(scanner, out, "Mattermost token", cfg.Mattermost.Token)
			cfg.Mattermost.ChannelID = prompt(scanner, out, "Mattermost channel ID", cfg.Mattermost.ChannelID)
		}

		if err := config.Validate(cfg); err != nil {
			return fmt.Errorf("invalid settings: %w", err)
		}
		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Fprintln(out)
		fmt.Fprintln(out, "Configuration saved to", cfgPath)
		return nil
	},
}

func yesNo(b bool) string {
	if b {
		return "y"
	}
	return "n"
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, out io.Writer, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", label, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}
