package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fleetpulse/core/internal/models"
	"github.com/fleetpulse/core/internal/timeline"
)

// State is the client-observable connection status of the push channel.
type State string

const (
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateError      State = "error"
)

// ConnectionError is a push-channel failure, distinguished from FetchError and
// ParseError so the consuming layer can pick a reconnect policy for it.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("stream %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Envelope is one frame on the push channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type joinFrame struct {
	Event     string `json:"event"`
	UserID    int64  `json:"user_id"`
	SessionID string `json:"session_id"`
}

// EventServerData carries a batch of live samples.
const EventServerData = "server_data"

// Ingestor holds the single live connection for one authenticated user and
// merges pushed samples into the shared timeline. Disconnects are surfaced,
// not retried: Reconnect is an explicit operation so backoff policy stays a
// caller concern. Nothing is ingested while disconnected; gaps are backfilled
// by the next history poll.
type Ingestor struct {
	url       string
	userID    int64
	sessionID string
	store     *timeline.Store
	scope     func(serverID int64) bool
	dialer    *websocket.Dialer

	mu           sync.Mutex
	conn         *websocket.Conn
	dialing      bool
	state        State
	lastErr      error
	lastReceived time.Time
}

// NewIngestor prepares a push-channel client. scope reports whether a server
// id belongs to the user's current subscription set; samples outside it are
// dropped at ingestion.
func NewIngestor(url string, userID int64, store *timeline.Store, scope func(int64) bool) *Ingestor {
	return &Ingestor{
		url:       url,
		userID:    userID,
		sessionID: uuid.New().String(),
		store:     store,
		scope:     scope,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		state:     StateConnecting,
	}
}

// Connect dials the hub, sends the join frame for the user's room and starts
// reading events. It returns once the join frame is written; ingestion runs
// on a background goroutine until the connection drops or Disconnect is
// called.
func (i *Ingestor) Connect(ctx context.Context) error {
	// The dialing flag keeps a second concurrent Connect from opening a
	// duplicate connection while the first is still in the handshake.
	i.mu.Lock()
	if i.conn != nil || i.dialing {
		i.mu.Unlock()
		return nil
	}
	i.dialing = true
	i.state = StateConnecting
	i.mu.Unlock()

	conn, _, err := i.dialer.DialContext(ctx, i.url, nil)
	if err != nil {
		i.clearDialing()
		return i.fail("dial", err)
	}

	join := joinFrame{Event: "join", UserID: i.userID, SessionID: i.sessionID}
	if err := conn.WriteJSON(join); err != nil {
		conn.Close()
		i.clearDialing()
		return i.fail("join", err)
	}

	i.mu.Lock()
	i.dialing = false
	i.conn = conn
	i.state = StateConnected
	i.lastErr = nil
	i.mu.Unlock()

	go i.readLoop(conn)
	return nil
}

func (i *Ingestor) clearDialing() {
	i.mu.Lock()
	i.dialing = false
	i.mu.Unlock()
}

// Reconnect tears down any existing connection and dials again. It is the
// explicit recovery affordance for a dropped channel.
func (i *Ingestor) Reconnect(ctx context.Context) error {
	i.Disconnect()
	return i.Connect(ctx)
}

// Disconnect closes the connection. The read loop exits on the closed socket.
func (i *Ingestor) Disconnect() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.conn != nil {
		i.conn.Close()
		i.conn = nil
	}
	i.state = StateError
}

func (i *Ingestor) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			i.fail("read", err)
			i.mu.Lock()
			if i.conn == conn {
				i.conn = nil
			}
			i.mu.Unlock()
			conn.Close()
			return
		}
		i.handle(raw)
	}
}

// handle processes one frame. A server_data event whose data field is not an
// array of samples is dropped whole; no partial merge is attempted.
func (i *Ingestor) handle(raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("Dropping undecodable push frame: %v", err)
		return
	}
	if env.Event != EventServerData {
		return
	}

	var samples []models.MetricSample
	if err := json.Unmarshal(env.Data, &samples); err != nil {
		log.Printf("Dropping server_data event with malformed data array: %v", err)
		return
	}

	for _, sample := range samples {
		if !i.scope(sample.ServerID) {
			continue
		}
		if _, err := i.store.Merge(sample); err != nil {
			log.Printf("Dropping pushed sample for server %d: %v", sample.ServerID, err)
		}
	}

	i.mu.Lock()
	i.lastReceived = time.Now()
	i.mu.Unlock()
}

func (i *Ingestor) fail(op string, err error) error {
	cerr := &ConnectionError{Op: op, Err: err}
	i.mu.Lock()
	i.state = StateError
	i.lastErr = cerr
	i.mu.Unlock()
	return cerr
}

// State reports the connection status.
func (i *Ingestor) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Connected reports whether the channel is currently up.
func (i *Ingestor) Connected() bool {
	return i.State() == StateConnected
}

// LastError returns the most recent connection failure, nil while healthy.
func (i *Ingestor) LastError() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastErr
}

// LastReceived is the arrival time of the most recent server_data event.
func (i *Ingestor) LastReceived() time.Time {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastReceived
}

// SessionID identifies this connection attempt series in hub logs.
func (i *Ingestor) SessionID() string { return i.sessionID }
