package agent

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

// Uploader pushes reports to the hub's agent websocket at a fixed interval.
// Run returns on connection failure; the caller owns the retry delay.
type Uploader struct {
	url       string
	collector *Collector
	interval  time.Duration
	dialer    *websocket.Dialer
}

func NewUploader(url string, collector *Collector, interval time.Duration) *Uploader {
	return &Uploader{
		url:       url,
		collector: collector,
		interval:  interval,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

func (u *Uploader) Run(ctx context.Context) error {
	conn, _, err := u.dialer.DialContext(ctx, u.url, nil)
	if err != nil {
		return fmt.Errorf("dial hub: %w", err)
	}
	defer conn.Close()

	log.Printf("Connected to hub at %s", u.url)

	// First report immediately, then on the ticker.
	if err := u.report(conn); err != nil {
		return err
	}

	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := u.report(conn); err != nil {
				return err
			}
		}
	}
}

func (u *Uploader) report(conn *websocket.Conn) error {
	report, err := u.collector.Collect()
	if err != nil {
		// Collection trouble is local; keep the connection and let the
		// next tick retry.
		log.Printf("Collection failed: %v", err)
		return nil
	}
	if err := conn.WriteJSON(report); err != nil {
		return fmt.Errorf("send report: %w", err)
	}
	return nil
}
