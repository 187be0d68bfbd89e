package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/musterbot/muster/internal/bus"
	"github.com/musterbot/muster/internal/channel"
	"github.com/musterbot/muster/internal/cli"
	"github.com/musterbot/muster/internal/config"
	"github.com/musterbot/muster/internal/heartbeat"
	"github.com/musterbot/muster/internal/logging"
	"github.com/musterbot/muster/internal/roster"
	"github.com/musterbot/muster/internal/tracker"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "gateway":
		cmdGateway()
	case "simulate":
		cmdSimulate()
	case "status":
		cmdStatus()
	case "onboard":
		cli.RunOnboard()
	case "version", "--version", "-v":
		fmt.Println(cli.TitleStyle.Render(
			fmt.Sprintf("  %s muster v%s", cli.Logo, cli.Version),
		))
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	dim := cli.DimStyle.Render
	fmt.Println()
	fmt.Println(cli.TitleStyle.Render(fmt.Sprintf("  %s muster", cli.Logo)) + dim(" — tag everyone in your group chats"))
	fmt.Println()
	fmt.Println("  " + cli.BoldStyle.Render("Usage"))
	fmt.Println()
	fmt.Printf("    muster %-10s %s\n", "gateway", dim("Connect to the configured chat platforms"))
	fmt.Printf("    muster %-10s %s\n", "simulate", dim("Try the bot in a simulated group chat"))
	fmt.Printf("    muster %-10s %s\n", "status", dim("Show configuration"))
	fmt.Printf("    muster %-10s %s\n", "onboard", dim("Initialize setup"))
	fmt.Printf("    muster %-10s %s\n", "version", dim("Show version"))
	fmt.Println()
}

// --- gateway command ---

func cmdGateway() {
	godotenv.Load()

	cfg := mustLoadConfig()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	setupLogging(cfg.Log)

	if !cfg.Channels.Telegram.Enabled && !cfg.Channels.Discord.Enabled {
		fmt.Fprintln(os.Stderr, "Error: no channel enabled — edit "+config.ConfigPath())
		os.Exit(1)
	}

	msgBus := bus.New()
	store := roster.NewStore()
	trk := tracker.New(msgBus, store, tracker.Options{
		Trigger: cfg.Command.Trigger,
		Timeout: time.Duration(cfg.Command.ReplyTimeoutS) * time.Second,
	})

	fmt.Println()
	fmt.Println(cli.TitleStyle.Render(fmt.Sprintf("  %s muster Gateway", cli.Logo)))
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var channels []channel.Channel

	if cfg.Channels.Telegram.Enabled {
		tg := channel.NewTelegram(cfg.Channels.Telegram, cfg.Command.Trigger, msgBus)
		msgBus.Bind(tg.Name(), tg.Send)
		trk.Bind(tg.Name(), tracker.Binding{Caps: tg, BotUsername: cfg.Channels.Telegram.BotUsername})
		channels = append(channels, tg)
		fmt.Println("  " + cli.OkStyle.Render("✓") + " Telegram")
	} else {
		fmt.Println("  " + cli.DimStyle.Render("✗") + " Telegram " + cli.DimStyle.Render("(not enabled)"))
	}

	if cfg.Channels.Discord.Enabled {
		dc := channel.NewDiscord(cfg.Channels.Discord, msgBus)
		msgBus.Bind(dc.Name(), dc.Send)
		trk.Bind(dc.Name(), tracker.Binding{Caps: dc})
		channels = append(channels, dc)
		fmt.Println("  " + cli.OkStyle.Render("✓") + " Discord")
	} else {
		fmt.Println("  " + cli.DimStyle.Render("✗") + " Discord " + cli.DimStyle.Render("(not enabled)"))
	}

	fmt.Println()

	go msgBus.DispatchOutbound(ctx)
	go trk.Run(ctx)

	if cfg.Heartbeat.Enabled {
		hb := heartbeat.NewService(store, time.Duration(cfg.Heartbeat.IntervalS)*time.Second)
		go hb.Run(ctx)
	}

	for _, ch := range channels {
		go func(ch channel.Channel) {
			if err := ch.Start(ctx); err != nil && ctx.Err() == nil {
				slog.Error("channel error", "channel", ch.Name(), "err", err)
			}
		}(ch)
	}

	fmt.Println(cli.DimStyle.Render("  Press Ctrl+C to stop"))
	<-ctx.Done()
	fmt.Println("\n  Shutting down...")
	for _, ch := range channels {
		ch.Stop()
	}
}

// --- simulate command ---

func cmdSimulate() {
	cfg := mustLoadConfig()
	// Logs would fight the TUI for the terminal.
	slog.SetDefault(slog.New(logging.NewHandler(os.Stderr, &logging.Options{Level: slog.LevelError})))
	if err := cli.RunSimulate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// --- status command ---

func cmdStatus() {
	godotenv.Load()
	cfg, _ := config.Load()
	cli.RunStatus(cfg)
}

// --- helpers ---

func setupLogging(cfg config.LogConfig) {
	handler := logging.NewHandler(os.Stdout, &logging.Options{
		Level: logging.ParseLevel(cfg.Level),
		Color: cfg.Color,
	})
	slog.SetDefault(slog.New(handler))
}

func mustLoadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", err)
	}
	return cfg
}
