package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bluetime/go/internal/peersync"
)

// Relay pairs devices over WebSocket. Every frame a device sends is
// forwarded to the other devices joined to the same pairing ID.
type Relay struct {
	// Connection pools organized by pairing ID
	pairings map[uuid.UUID]map[*relayConn]bool
	mu       sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	forwardCh chan forward
}

// relayConn is one device attached to the relay.
type relayConn struct {
	ID        string
	Device    string
	PairingID uuid.UUID
	Conn      *websocket.Conn
	Send      chan []byte
	relay     *Relay

	ConnectedAt time.Time
	closeOnce   sync.Once
}

type forward struct {
	from   *relayConn
	action peersync.Action
	data   []byte
}

// RelayStats describes the connections currently attached.
type RelayStats struct {
	TotalConnections int            `json:"total_connections"`
	ActivePairings   int            `json:"active_pairings"`
	Pairings         map[string]int `json:"pairings"`
}

// NewRelay creates a relay; call Start to begin forwarding.
func NewRelay(config ConnectionConfig) *Relay {
	return &Relay{
		pairings: make(map[uuid.UUID]map[*relayConn]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:    config,
		forwardCh: make(chan forward, 256),
	}
}

// Start processes forwarded frames until ctx is done.
func (r *Relay) Start(ctx context.Context) {
	log.Info().Msg("relay started")

	for {
		select {
		case <-ctx.Done():
			r.closeAll()
			log.Info().Msg("relay shutting down")
			return
		case f := <-r.forwardCh:
			r.handleForward(f)
		}
	}
}

// HandlePair upgrades a device connection and joins it to its pairing.
func (r *Relay) HandlePair(w http.ResponseWriter, req *http.Request) {
	pairingStr := req.URL.Query().Get("pairing_id")
	if pairingStr == "" {
		http.Error(w, "pairing_id is required", http.StatusBadRequest)
		return
	}

	pairingID, err := uuid.Parse(pairingStr)
	if err != nil {
		http.Error(w, "invalid pairing_id format", http.StatusBadRequest)
		return
	}

	device := req.URL.Query().Get("device")
	if device == "" {
		device = "anonymous"
	}

	if err := r.upgrade(w, req, pairingID, device); err != nil {
		log.Error().
			Err(err).
			Str("pairing_id", pairingID.String()).
			Str("device", device).
			Msg("failed to upgrade WebSocket connection")
		// the upgrader has already replied
	}
}

// HandleStats reports connection statistics as JSON.
func (r *Relay) HandleStats(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(r.Stats()); err != nil {
		log.Error().Err(err).Msg("failed to encode relay stats")
	}
}

// RegisterRoutes registers relay routes with an HTTP mux
func (r *Relay) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/pair", r.HandlePair)
	mux.HandleFunc("/ws/stats", r.HandleStats)
}

// Stats returns statistics about active connections
func (r *Relay) Stats() RelayStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RelayStats{
		ActivePairings: len(r.pairings),
		Pairings:       make(map[string]int, len(r.pairings)),
	}
	for pairingID, conns := range r.pairings {
		stats.TotalConnections += len(conns)
		stats.Pairings[pairingID.String()] = len(conns)
	}
	return stats
}

func (r *Relay) upgrade(w http.ResponseWriter, req *http.Request, pairingID uuid.UUID, device string) error {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return fmt.Errorf("upgrade connection: %w", err)
	}

	c := &relayConn{
		ID:          uuid.New().String(),
		Device:      device,
		PairingID:   pairingID,
		Conn:        conn,
		Send:        make(chan []byte, r.config.SendBufferSize),
		relay:       r,
		ConnectedAt: time.Now(),
	}

	r.register(c)

	go c.writePump()
	go c.readPump()

	log.Info().
		Str("connection_id", c.ID).
		Str("device", device).
		Str("pairing_id", pairingID.String()).
		Msg("device joined pairing")

	return nil
}

func (r *Relay) register(c *relayConn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pairings[c.PairingID] == nil {
		r.pairings[c.PairingID] = make(map[*relayConn]bool)
	}
	r.pairings[c.PairingID][c] = true

	log.Debug().
		Str("connection_id", c.ID).
		Str("pairing_id", c.PairingID.String()).
		Int("total_connections", len(r.pairings[c.PairingID])).
		Msg("connection registered")
}

func (r *Relay) unregister(c *relayConn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.pairings[c.PairingID]
	if !ok {
		return
	}
	if _, ok := conns[c]; !ok {
		return
	}

	delete(conns, c)
	close(c.Send)
	if len(conns) == 0 {
		delete(r.pairings, c.PairingID)
	}

	log.Info().
		Str("connection_id", c.ID).
		Str("device", c.Device).
		Str("pairing_id", c.PairingID.String()).
		Msg("device left pairing")
}

func (r *Relay) handleForward(f forward) {
	// sends happen under the read lock so unregister cannot close a Send
	// channel mid-forward
	var slow []*relayConn
	targets := 0

	r.mu.RLock()
	for c := range r.pairings[f.from.PairingID] {
		if c == f.from {
			continue
		}
		targets++
		select {
		case c.Send <- f.data:
		default:
			slow = append(slow, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range slow {
		log.Warn().
			Str("connection_id", c.ID).
			Str("device", c.Device).
			Msg("connection send buffer full, closing connection")
		r.unregister(c)
		c.close()
	}

	log.Debug().
		Str("action", string(f.action)).
		Str("from", f.from.Device).
		Str("pairing_id", f.from.PairingID.String()).
		Int("targets", targets).
		Msg("frame relayed")
}

func (r *Relay) closeAll() {
	r.mu.RLock()
	var all []*relayConn
	for _, conns := range r.pairings {
		for c := range conns {
			all = append(all, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range all {
		r.unregister(c)
	}
}

func (c *relayConn) close() {
	c.closeOnce.Do(func() {
		c.Conn.Close()
	})
}

func (c *relayConn) writePump() {
	ticker := time.NewTicker(c.relay.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
		c.relay.unregister(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.relay.config.WriteTimeout))
			if !ok {
				// unregistered
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.relay.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

func (c *relayConn) readPump() {
	defer func() {
		c.relay.unregister(c)
		c.close()
	}()

	c.Conn.SetReadLimit(c.relay.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.relay.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.relay.config.ReadTimeout))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			return
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.relay.config.ReadTimeout))

		msg, err := peersync.Decode(data)
		if err != nil {
			log.Debug().
				Err(err).
				Str("connection_id", c.ID).
				Msg("dropping undecodable frame")
			continue
		}

		select {
		case c.relay.forwardCh <- forward{from: c, action: msg.Action, data: data}:
		default:
			log.Warn().
				Str("connection_id", c.ID).
				Msg("forward channel full, dropping frame")
		}
	}
}
