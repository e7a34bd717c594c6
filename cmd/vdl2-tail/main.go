package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"vdl2_feed/internal/models"
	"vdl2_feed/internal/subscriber"
)

func main() {
	url := pflag.String("url", "ws://localhost:8081/ws", "WebSocket URL of the feed")
	rawJSON := pflag.Bool("json", false, "Print each message as JSON instead of a summary line")
	pflag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	enc := json.NewEncoder(os.Stdout)
	handler := func(msg *models.EnrichedMessage) {
		if *rawJSON {
			if err := enc.Encode(msg); err != nil {
				slog.Warn("Failed to encode message", "error", err)
			}
			return
		}
		fmt.Println(formatLine(msg))
	}

	client := subscriber.NewClient(*url, handler,
		subscriber.WithStatusHandler(func(s subscriber.Status) {
			slog.Info("Feed status", "status", s.String(), "url", *url)
		}),
	)

	if err := client.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("Subscriber stopped", "error", err)
		os.Exit(1)
	}
}

// formatLine renders: timestamp key reg type owner flight
func formatLine(msg *models.EnrichedMessage) string {
	return fmt.Sprintf("%s %s %-8s %-5s %-24s %s",
		msg.TimestampISO(),
		msg.Key,
		orDash(msg.DB.Registration),
		orDash(msg.DB.ICAOType),
		orDash(msg.DB.OwnerOp),
		orDash(msg.Flight),
	)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
