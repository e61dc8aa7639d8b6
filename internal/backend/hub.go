package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fleetpulse/core/internal/models"
	"github.com/fleetpulse/core/internal/normalize"
	"github.com/fleetpulse/core/internal/severity"
	"github.com/fleetpulse/core/internal/stream"
)

// Hub owns the two websocket surfaces: /ws/agent, where host agents upload
// reports, and /ws/live, where consumers join a room keyed by their user id
// and receive periodic server_data events with the latest sample per
// subscribed server.
type Hub struct {
	db           *DB
	thresholds   severity.Thresholds
	emitInterval time.Duration
	upgrader     websocket.Upgrader

	mu    sync.Mutex
	rooms map[int64]map[*websocket.Conn]bool
}

func NewHub(db *DB, thresholds severity.Thresholds, emitInterval time.Duration) *Hub {
	return &Hub{
		db:           db,
		thresholds:   thresholds,
		emitInterval: emitInterval,
		rooms:        make(map[int64]map[*websocket.Conn]bool),
	}
}

func (h *Hub) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/agent", h.handleAgent)
	mux.HandleFunc("/ws/live", h.handleLive)
}

// Run emits the live feed until the context is canceled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.emitInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.broadcast()
		}
	}
}

func (h *Hub) handleAgent(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Agent upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	for {
		var report models.AgentReport
		if err := conn.ReadJSON(&report); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("Agent connection closed: %v", err)
			}
			return
		}
		if err := h.Ingest(report); err != nil {
			log.Printf("Ingest from %s failed: %v", report.Hostname, err)
		}
	}
}

// Ingest stores one agent report: it refreshes the server row, persists the
// sample and writes the threshold-check alert record derived from it.
func (h *Hub) Ingest(report models.AgentReport) error {
	if report.Hostname == "" {
		return fmt.Errorf("report missing hostname")
	}

	now := time.Now().UTC()
	if t, err := models.ParseTimestamp(report.Timestamp); err == nil {
		now = t
	}
	identity := models.ServerIdentity{
		Name:     report.Hostname,
		IP:       reportIP(report.Network),
		Platform: report.Platform,
		Version:  report.Version,
		LastSeen: models.FormatTimestamp(now),
	}

	serverID, err := h.db.UpsertServer(identity)
	if err != nil {
		return err
	}

	sample, err := reportSample(serverID, now, report)
	if err != nil {
		return err
	}
	if err := h.db.InsertSample(sample); err != nil {
		return err
	}

	rec := severity.Evaluate(normalize.Sample(sample), h.thresholds)
	if err := h.db.InsertAlert(rec); err != nil {
		return err
	}
	return nil
}

// reportIP picks the agent's address: the first non-loopback interface
// address in name order.
func reportIP(ifaces map[string]models.InterfaceStats) string {
	name := normalize.PrimaryInterface(ifaces)
	for _, addr := range ifaces[name].Addresses {
		if addr.IP != "" {
			return addr.IP
		}
	}
	return ""
}

func reportSample(serverID int64, now time.Time, report models.AgentReport) (models.MetricSample, error) {
	cpu, err := json.Marshal(report.CPU)
	if err != nil {
		return models.MetricSample{}, fmt.Errorf("encode cpu section: %w", err)
	}
	mem, err := json.Marshal(report.Memory)
	if err != nil {
		return models.MetricSample{}, fmt.Errorf("encode memory section: %w", err)
	}
	disk, err := json.Marshal(report.Disks)
	if err != nil {
		return models.MetricSample{}, fmt.Errorf("encode disk section: %w", err)
	}
	network, err := json.Marshal(report.Network)
	if err != nil {
		return models.MetricSample{}, fmt.Errorf("encode network section: %w", err)
	}

	return models.MetricSample{
		ServerID:  serverID,
		Timestamp: models.FormatTimestamp(now),
		CPU:       cpu,
		Memory:    mem,
		Disk:      disk,
		Network:   network,
		BootTime:  report.BootTime,
	}, nil
}

func (h *Hub) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Live upgrade failed: %v", err)
		return
	}

	var join struct {
		Event  string `json:"event"`
		UserID int64  `json:"user_id"`
	}
	if err := conn.ReadJSON(&join); err != nil || join.Event != "join" {
		conn.Close()
		return
	}

	h.joinRoom(join.UserID, conn)
	defer h.leaveRoom(join.UserID, conn)

	// Drain until the peer goes away; the live channel is server-to-client
	// after the join frame.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) joinRoom(userID int64, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[userID] == nil {
		h.rooms[userID] = make(map[*websocket.Conn]bool)
	}
	h.rooms[userID][conn] = true
}

func (h *Hub) leaveRoom(userID int64, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms[userID], conn)
	if len(h.rooms[userID]) == 0 {
		delete(h.rooms, userID)
	}
	conn.Close()
}

// broadcast sends each room's users the latest sample per subscribed server.
func (h *Hub) broadcast() {
	h.mu.Lock()
	users := make([]int64, 0, len(h.rooms))
	for userID := range h.rooms {
		users = append(users, userID)
	}
	h.mu.Unlock()

	for _, userID := range users {
		samples, err := h.latestForUser(userID)
		if err != nil {
			log.Printf("Building live payload for user %d failed: %v", userID, err)
			continue
		}
		if len(samples) == 0 {
			continue
		}
		h.emit(userID, samples)
	}
}

func (h *Hub) latestForUser(userID int64) ([]models.MetricSample, error) {
	subs, err := h.db.ListSubscriptions(userID)
	if err != nil {
		return nil, err
	}

	var samples []models.MetricSample
	for _, sub := range subs {
		sample, err := h.db.LatestSample(sub.ServerID)
		if err != nil {
			continue
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

func (h *Hub) emit(userID int64, samples []models.MetricSample) {
	data, err := json.Marshal(samples)
	if err != nil {
		log.Printf("Encoding live payload failed: %v", err)
		return
	}
	env := stream.Envelope{Event: stream.EventServerData, Data: data}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.rooms[userID]))
	for conn := range h.rooms[userID] {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		if err := conn.WriteJSON(env); err != nil {
			h.leaveRoom(userID, conn)
		}
	}
}

// Maintenance marks silent servers offline and prunes stored rows beyond the
// retention horizon.
func (h *Hub) Maintenance(offlineAfter time.Duration, retention time.Duration) {
	now := time.Now().UTC()

	if n, err := h.db.MarkSilentOffline(now.Add(-offlineAfter)); err != nil {
		log.Printf("Offline sweep failed: %v", err)
	} else if n > 0 {
		log.Printf("Marked %d silent servers offline", n)
	}

	if n, err := h.db.Prune(now.Add(-retention)); err != nil {
		log.Printf("Prune failed: %v", err)
	} else if n > 0 {
		log.Printf("Pruned %d expired rows", n)
	}
}
