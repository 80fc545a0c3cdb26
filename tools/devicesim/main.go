// Command devicesim is a simulated SMS handset for local runs and CI.
//
// It connects to the device gateway, registers, answers every send with an
// ack and reports status periodically. With -once it exits after the first
// acknowledged send, which makes it usable as a smoke test.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg := defaultSimConfig()
	flag.StringVar(&cfg.URL, "url", cfg.URL, "gateway WebSocket URL")
	flag.StringVar(&cfg.Origin, "origin", "", "Origin header to send (optional)")
	flag.StringVar(&cfg.Secret, "secret", os.Getenv("AUTOTM_GATEWAY_SHARED_SECRET"), "gateway shared secret")
	flag.StringVar(&cfg.DeviceID, "device", cfg.DeviceID, "device id (empty lets the gateway assign one)")
	flag.StringVar(&cfg.Region, "region", cfg.Region, "device region")
	flag.StringVar(&cfg.AckStatus, "ack", cfg.AckStatus, "ack status: sent, delivered or failed")
	flag.IntVar(&cfg.FailEvery, "fail-every", 0, "report every Nth send as failed (0 = never)")
	flag.DurationVar(&cfg.AckDelay, "ack-delay", cfg.AckDelay, "delay before acking a send")
	flag.DurationVar(&cfg.StatusInterval, "status-interval", cfg.StatusInterval, "status heartbeat interval")
	flag.DurationVar(&cfg.StepTimeout, "timeout", cfg.StepTimeout, "per-step timeout")
	flag.BoolVar(&cfg.Once, "once", false, "exit after the first acknowledged send")
	verbose := flag.Bool("v", false, "verbose output")
	flag.Parse()

	if err := cfg.validate(); err != nil {
		fatalf("invalid flags: %v", err)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sim := newSimulator(cfg, log)
	if cfg.Once {
		if err := sim.runOnce(ctx); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("OK: device=%s acked=%d\n", sim.deviceKey, sim.acked)
		return
	}

	backoff := time.Second
	for {
		start := time.Now()
		err := sim.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if time.Since(start) > time.Minute {
			backoff = time.Second
		}
		log.Warn("devicesim.disconnected", "err", err, "retry_in", backoff.String())

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 30*time.Second)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
