package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"vorel/store"
)

func main() {
	controlPort := flag.Int("control-port", defaultControlPort, "TCP control-plane port")
	voicePort := flag.Int("voice-port", defaultVoicePort, "UDP voice-plane port")
	dbPath := flag.String("db", "vorel.db", "path to the SQLite database file")
	adminAddr := flag.String("admin-addr", "", "admin HTTP listen address (empty disables it)")
	maxConnections := flag.Int("max-connections", defaultMaxConnections, "maximum total control connections (0 = unlimited)")
	perIPLimit := flag.Int("per-ip-limit", defaultPerIPLimit, "maximum control connections per source IP (0 = unlimited)")
	rateLimit := flag.Int("rate-limit", defaultRateLimit, "maximum control messages per second per connection (0 = unlimited)")
	flag.Parse()

	if RunCLI(flag.Args(), *dbPath) {
		return
	}

	st, err := store.New(*dbPath)
	if err != nil {
		log.Fatalf("[main] open store: %v", err)
	}
	defer st.Close()

	srv := NewServer(st, *voicePort, *rateLimit, *maxConnections, *perIPLimit)
	if err := srv.channels.SeedDefaults(); err != nil {
		log.Fatalf("[main] seed channels: %v", err)
	}
	voice := NewVoiceRelay(srv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	controlAddr := net.JoinHostPort("", strconv.Itoa(*controlPort))
	voiceAddr := net.JoinHostPort("", strconv.Itoa(*voicePort))

	errCh := make(chan error, 3)

	go func() {
		errCh <- srv.Run(ctx, controlAddr)
	}()
	go func() {
		errCh <- voice.Run(ctx, voiceAddr)
	}()

	if *adminAddr != "" {
		admin := NewAdminServer(srv, voice)
		go func() {
			errCh <- admin.Run(ctx, *adminAddr)
		}()
	}

	go RunMetrics(ctx, srv, voice, 30*time.Second)

	log.Printf("[main] vorel %s listening: control=%s voice=%s", version, controlAddr, voiceAddr)

	select {
	case <-ctx.Done():
		log.Printf("[main] shutting down")
		<-time.After(200 * time.Millisecond) // let goroutines observe ctx and unwind
	case err := <-errCh:
		if err != nil {
			log.Fatalf("[main] fatal: %v", err)
		}
	}
}
