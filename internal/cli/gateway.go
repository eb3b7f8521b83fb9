package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/KafClaw/groupforge/internal/bus"
	"github.com/KafClaw/groupforge/internal/config"
	"github.com/KafClaw/groupforge/internal/gateway"
	"github.com/KafClaw/groupforge/internal/intake"
	"github.com/KafClaw/groupforge/internal/ledger"
	"github.com/KafClaw/groupforge/internal/messaging"
	"github.com/KafClaw/groupforge/internal/orchestrator"
	"github.com/KafClaw/groupforge/internal/participants"
	"github.com/KafClaw/groupforge/internal/scheduler"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start owner sessions, the scheduler and the HTTP gateway",
	RunE:  runGateway,
}

func runGateway(cmd *cobra.Command, args []string) error {
	printHeader("🌐 GroupForge Gateway")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if len(cfg.Gateway.Tokens) == 0 {
		fmt.Println("⚠️  No gateway tokens configured (gateway.tokens); every API call will be rejected.")
	}
	if err := os.MkdirAll(cfg.Paths.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	lock := scheduler.NewFileLock(cfg.Paths.LockPath())
	if err := lock.Acquire(); err != nil {
		return err
	}
	defer lock.Unlock()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	led, err := ledger.Open(cfg.Paths.LedgerPath())
	if err != nil {
		return err
	}
	defer led.Close()

	hub := bus.NewHub(cfg.Events.SubscriberBuffer)
	addSinks(hub, cfg.Events)

	registry := messaging.NewRegistry()
	orch := orchestrator.New(orchestrator.Config{
		MinDelay:       cfg.Throttle.MinDelay,
		MaxDelay:       cfg.Throttle.MaxDelay,
		InviteInterval: cfg.Throttle.InviteInterval,
		PromoteDelay:   cfg.Throttle.PromoteDelay,
		InviteMessage:  cfg.WhatsApp.InviteMessage,
	}, led, led, hub)
	sched := scheduler.New(orch, registry, hub)
	registry.OnReady(sched.Notify)

	sessions := messaging.NewSessions(cfg.Paths.SessionDir(), registry)
	defer sessions.Close()
	for _, owner := range cfg.WhatsApp.Owners {
		if err := sessions.Start(ctx, owner); err != nil {
			if errors.Is(err, messaging.ErrNotPaired) {
				fmt.Printf("WhatsApp %s: %s not paired (run 'groupforge pair --owner %s')\n", owner, okMark(false), owner)
				continue
			}
			slog.Error("WhatsApp session failed to start", "owner", owner, "error", err)
			continue
		}
		fmt.Printf("WhatsApp %s: %s connecting\n", owner, okMark(true))
	}

	srv := gateway.New(gateway.Options{
		Tokens:         cfg.Gateway.Tokens,
		MaxUploadBytes: cfg.Gateway.MaxUploadBytes,
		Builder:        intake.NewBuilder(participants.NewResolver(cfg.WhatsApp.DefaultCountryCode, cfg.WhatsApp.AddressServer)),
		Queue:          sched,
		Hub:            hub,
		Ledger:         led,
		Sessions:       registry,
		Scheduler:      sched,
		Version:        version,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(sched.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(hub.DispatchSinks(gctx)) })
	g.Go(func() error { return srv.ListenAndServe(gctx, cfg.Gateway.Addr()) })

	fmt.Printf("📡 API listening on http://%s\n", cfg.Gateway.Addr())
	err = g.Wait()
	fmt.Println("Gateway stopped")
	return err
}

func addSinks(hub *bus.Hub, ev config.EventsConfig) {
	if brokers := ev.Brokers(); len(brokers) > 0 {
		hub.AddSink(bus.NewKafkaSink(brokers, ev.KafkaTopic))
	}
	if ev.RedisAddr != "" {
		hub.AddSink(bus.NewRedisSink(ev.RedisAddr, ev.RedisChannelPrefix))
	}
	if ev.SlackToken != "" && ev.SlackChannel != "" {
		hub.AddSink(bus.NewSlackSink(ev.SlackToken, ev.SlackChannel))
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
