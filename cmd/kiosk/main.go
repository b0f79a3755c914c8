// Try-on kiosk: the customer-facing surface. It waits for the operator to
// start the engine, shows the session, and reports back when it closes.
// Scan and selection input is read line by line from stdin.
package main

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ashureev/tryon-orchestrator/internal/config"
	"github.com/ashureev/tryon-orchestrator/internal/customer"
	"github.com/ashureev/tryon-orchestrator/internal/domain"
	"github.com/ashureev/tryon-orchestrator/internal/kiosk"
	"github.com/ashureev/tryon-orchestrator/internal/selection"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lines := readLines(os.Stdin)

	k, err := kiosk.New(kiosk.Config{
		ServerURL:    cfg.Kiosk.ServerURL,
		SurfaceID:    cfg.Kiosk.ID,
		PollInterval: cfg.Kiosk.PollInterval,
		HealthAddr:   cfg.Kiosk.HealthAddr,
		CloseRepeats: cfg.Session.CloseRepeats,
		Scan: customer.ScanConfig{
			RampDuration: cfg.Scan.RampDuration,
			TickInterval: cfg.Scan.TickInterval,
		},
	}, func(ctx context.Context, s *customer.Surface) {
		watch(s)
		go drive(ctx, s, lines)
	})
	if err != nil {
		slog.Error("Failed to initialize kiosk", "error", err)
		os.Exit(1)
	}

	slog.Info("Kiosk waiting for engine", "server", cfg.Kiosk.ServerURL, "kiosk_id", cfg.Kiosk.ID)
	if err := k.Run(ctx); err != nil {
		slog.Error("Kiosk stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("Kiosk stopped")
}

func watch(s *customer.Surface) {
	s.Scan().OnChange(func(p customer.ScanProgress) {
		slog.Info("Scan", "state", p.State, "progress", p.Progress)
	})
	s.Selection().OnChange(func(c selection.Change) {
		if c.Garment == nil {
			slog.Info("Slot cleared", "region", c.Region)
			return
		}
		slog.Info("Wearing", "region", c.Region, "garment_id", c.Garment.ID, "name", c.Garment.Name)
	})
}

func readLines(f *os.File) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			out <- strings.TrimSpace(scanner.Text())
		}
	}()
	return out
}

// drive applies stdin commands to s until it terminates:
//
//	ack | capture | reload | back
//	select <id> <category> [name...]
//	deselect upper|lower
//	close
func drive(ctx context.Context, s *customer.Surface, lines <-chan string) {
	for {
		var line string
		select {
		case <-s.Done():
			return
		case l, ok := <-lines:
			if !ok {
				return
			}
			line = l
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "ack":
			s.Scan().Acknowledge()
		case "capture":
			if err := s.Scan().Capture(); err != nil {
				slog.Warn("Capture rejected", "error", err)
			}
		case "reload":
			s.Scan().Reload()
		case "back":
			slog.Info("Back navigation", "suppressed", s.HandleHistoryNavigation())
		case "select":
			if len(fields) < 3 {
				slog.Warn("Usage: select <id> <category> [name]")
				continue
			}
			g := domain.Garment{ID: fields[1], Category: fields[2], Name: strings.Join(fields[3:], " ")}
			if _, err := s.SelectLocal(ctx, g); err != nil {
				slog.Warn("Selection failed", "error", err)
			}
		case "deselect":
			region, ok := domain.ParseRegion(strings.Join(fields[1:], ""))
			if !ok {
				slog.Warn("Usage: deselect upper|lower")
				continue
			}
			s.Deselect(region)
		case "close":
			if err := s.Unload(ctx); err != nil {
				slog.Warn("Unload failed", "error", err)
			}
			return
		default:
			slog.Warn("Unknown command", "command", fields[0])
		}
	}
}
