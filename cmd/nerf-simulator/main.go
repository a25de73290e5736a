package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"nerfbot-server-go/internal/platform/logging"
	"nerfbot-server-go/internal/simulator"
)

func main() {
	port := pflag.IntP("port", "p", 5555, "port to listen on")
	shotDuration := pflag.Duration("shot-duration", 500*time.Millisecond, "busy time per shot")
	maxShots := pflag.Int("max-shots", 0, "clamp bursts to this many shots (0 = unlimited)")
	koChance := pflag.Float64("ko-chance", 0.05, "probability of a simulated jam per ko-interval")
	koInterval := pflag.Duration("ko-interval", 10*time.Minute, "interval between jam checks")
	pflag.Parse()

	logger := logging.NewWriter("info", io.Discard, os.Stdout)
	sim := simulator.New(simulator.Options{
		ShotDuration:    *shotDuration,
		MaxShots:        *maxShots,
		KOChance:        *koChance,
		KOCheckInterval: *koInterval,
		Logger:          logger,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           sim.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.InfoTag("模拟器", "Nerf simulator listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		_, _ = fmt.Fprintf(os.Stderr, "nerf-simulator failed: %v\n", err)
		os.Exit(1)
	}
}
