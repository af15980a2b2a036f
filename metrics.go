package main

import (
	"context"
	"log"
	"time"
)

// RunMetrics logs relay stats every interval until ctx is canceled, matching
// the teacher's RunMetrics ticker (metrics.go).
func RunMetrics(ctx context.Context, srv *Server, voice *VoiceRelay, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			datagrams, bytes := voice.Stats()
			sessions := srv.sessions.Count()
			channels := srv.channels.Count()
			if sessions > 0 || datagrams > 0 {
				log.Printf("[metrics] sessions=%d channels=%d datagrams=%d bytes=%d (%.1f KB/s)",
					sessions, channels, datagrams, bytes,
					float64(bytes)/interval.Seconds()/1024)
			}
		}
	}
}
