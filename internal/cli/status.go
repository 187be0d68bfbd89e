package cli

import (
	"fmt"
	"os"

	"github.com/musterbot/muster/internal/config"
)

// RunStatus displays the current configuration status with styled output.
func RunStatus(cfg *config.Config) {
	cfgPath := config.ConfigPath()

	fmt.Println()
	fmt.Println(TitleStyle.Render(fmt.Sprintf("  %s muster Status", Logo)))
	fmt.Println()

	fmt.Printf("  %-12s %s  %s\n", "Config", StatusBadge(fileExists(cfgPath)), DimStyle.Render(cfgPath))
	fmt.Printf("  %-12s %s\n", "Trigger", cfg.Command.Trigger)
	fmt.Printf("  %-12s %s\n", "Log level", cfg.Log.Level)
	fmt.Println()

	fmt.Println("  " + BoldStyle.Render("Channels"))
	fmt.Printf("    %s  Telegram %s\n", StatusBadge(cfg.Channels.Telegram.Enabled), tokenNote(cfg.Channels.Telegram.Token))
	fmt.Printf("    %s  Discord  %s\n", StatusBadge(cfg.Channels.Discord.Enabled), tokenNote(cfg.Channels.Discord.Token))
	fmt.Println()

	fmt.Println("  " + BoldStyle.Render("Heartbeat"))
	fmt.Printf("    %s  every %ds\n", StatusBadge(cfg.Heartbeat.Enabled), cfg.Heartbeat.IntervalS)
	fmt.Println()
}

func tokenNote(token string) string {
	if token == "" {
		return DimStyle.Render("(no token)")
	}
	return DimStyle.Render("(token set)")
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
