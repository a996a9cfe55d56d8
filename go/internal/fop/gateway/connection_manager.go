package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/fieldofplay/go/internal/fop"
	"github.com/mcdev12/fieldofplay/go/internal/fop/bus"
	"github.com/mcdev12/fieldofplay/go/internal/fop/display"
	"github.com/mcdev12/fieldofplay/go/internal/fop/events"
	"github.com/rs/zerolog/log"
)

// ConnectionManager manages the websocket displays of every field of play
type ConnectionManager struct {
	// Connection pools organized by field of play
	fopConnections map[string]map[*Connection]bool
	mu             sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
}

// Connection is one remote screen. It is the renderer of its own display
// adapter: every renderer call becomes a timer frame on the socket.
type Connection struct {
	ID      string
	Name    string
	FOPID   string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	ConnectedAt time.Time

	adapter *display.TimerAdapter

	mu       sync.Mutex
	closed   bool
	synced   bool
	pending  [][]byte
	lastPing time.Time
}

// ConnectionConfig holds configuration for websocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

// ConnectionStats summarizes the attached displays
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveFOPs       int            `json:"active_fops"`
	FOPConnections   map[string]int `json:"fop_connections"`
}

// DefaultConnectionConfig returns default websocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		CheckOrigin: func(r *http.Request) bool {
			// screens are served from the venue network
			return true
		},
	}
}

// NewConnectionManager creates a new websocket connection manager
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = 256
	}
	return &ConnectionManager{
		fopConnections: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
	}
}

// UpgradeConnection upgrades an HTTP request to a display attached to f.
// The first frame written is the state of f; timer frames follow.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, f *fop.FieldOfPlay, name string, opts ...display.AdapterOption) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	now := time.Now()
	connection := &Connection{
		ID:          uuid.New().String(),
		Name:        name,
		FOPID:       f.FOPID(),
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBufferSize),
		Manager:     cm,
		ConnectedAt: now,
		lastPing:    now,
	}
	// a screen that falls behind is dropped and reconnects for a fresh state frame
	opts = append(opts, display.SubscribeWith(bus.EvictWhenFull()))
	connection.adapter = display.NewTimerAdapter(name+"/"+connection.ID[:8], connection, opts...)

	cm.registerConnection(connection)

	// Notifications published between attach and snapshot are held back
	// until the state frame is queued.
	connection.adapter.Attach(f.Notifications())
	connection.syncState(f.Snapshot())

	go connection.watchSubscription(connection.adapter.Done())
	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("display", name).
		Str("fop_id", connection.FOPID).
		Msg("display connected")

	return connection, nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.fopConnections[conn.FOPID] == nil {
		cm.fopConnections[conn.FOPID] = make(map[*Connection]bool)
	}
	cm.fopConnections[conn.FOPID][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("fop_id", conn.FOPID).
		Int("total_connections", len(cm.fopConnections[conn.FOPID])).
		Msg("connection registered")
}

// unregisterConnection detaches the display and closes its send queue.
// It is safe to call more than once.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	removed := false
	if connections, exists := cm.fopConnections[conn.FOPID]; exists {
		if _, exists := connections[conn]; exists {
			delete(connections, conn)
			removed = true
			if len(connections) == 0 {
				delete(cm.fopConnections, conn.FOPID)
			}
		}
	}
	cm.mu.Unlock()

	if !removed {
		return
	}
	conn.closeSend()
	conn.adapter.Detach()

	log.Info().
		Str("connection_id", conn.ID).
		Str("display", conn.Name).
		Str("fop_id", conn.FOPID).
		Msg("display disconnected")
}

// Connections returns the displays attached to a field of play
func (cm *ConnectionManager) Connections(fopID string) []*Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	out := make([]*Connection, 0, len(cm.fopConnections[fopID]))
	for conn := range cm.fopConnections[fopID] {
		out = append(out, conn)
	}
	return out
}

// CloseAll disconnects every display
func (cm *ConnectionManager) CloseAll() {
	cm.mu.RLock()
	var all []*Connection
	for _, connections := range cm.fopConnections {
		for conn := range connections {
			all = append(all, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range all {
		cm.unregisterConnection(conn)
	}
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{
		ActiveFOPs:     len(cm.fopConnections),
		FOPConnections: make(map[string]int, len(cm.fopConnections)),
	}
	for fopID, connections := range cm.fopConnections {
		stats.TotalConnections += len(connections)
		stats.FOPConnections[fopID] = len(connections)
	}
	return stats
}

// Display returns the adapter mirroring the timer on this screen
func (c *Connection) Display() *display.TimerAdapter {
	return c.adapter
}

// LastPing returns when the screen last answered a ping
func (c *Connection) LastPing() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPing
}

// SetTimeRemaining implements display.Renderer
func (c *Connection) SetTimeRemaining(ms int) {
	c.sendTimer(TimerFrame{
		Action:        ActionSet,
		TimeRemaining: &ms,
		Display:       display.FormatRemaining(ms),
	})
}

// Start implements display.Renderer
func (c *Connection) Start() {
	c.sendTimer(TimerFrame{Action: ActionStart})
}

// Pause implements display.Renderer
func (c *Connection) Pause() {
	c.sendTimer(TimerFrame{Action: ActionPause})
}

// TimeUp implements display.Renderer
func (c *Connection) TimeUp() {
	c.sendTimer(TimerFrame{Action: ActionTimeUp})
}

// Warning implements display.Renderer
func (c *Connection) Warning(kind events.Kind) {
	c.sendTimer(TimerFrame{Action: ActionWarning, Warning: kind})
}

func (c *Connection) sendTimer(tf TimerFrame) {
	data, err := json.Marshal(Frame{
		Type:  FrameTypeTimer,
		FOPID: c.FOPID,
		Timer: &tf,
		At:    time.Now(),
	})
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to marshal timer frame")
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if !c.synced {
		c.pending = append(c.pending, data)
		c.mu.Unlock()
		return
	}
	ok := c.enqueueLocked(data)
	c.mu.Unlock()

	if !ok {
		c.dropSlow()
	}
}

// syncState queues the state frame, then whatever was held back while the
// snapshot was taken
func (c *Connection) syncState(state fop.State) {
	data, err := json.Marshal(Frame{
		Type:  FrameTypeState,
		FOPID: c.FOPID,
		State: &state,
		At:    time.Now(),
	})
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to marshal state frame")
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
		return
	}

	c.mu.Lock()
	ok := c.enqueueLocked(data)
	for _, held := range c.pending {
		if !ok {
			break
		}
		ok = c.enqueueLocked(held)
	}
	c.pending = nil
	c.synced = true
	c.mu.Unlock()

	if !ok {
		c.dropSlow()
	}
}

func (c *Connection) enqueueLocked(data []byte) bool {
	if c.closed {
		return true
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *Connection) dropSlow() {
	log.Warn().
		Str("connection_id", c.ID).
		Str("display", c.Name).
		Msg("connection send buffer full, closing connection")
	c.Manager.unregisterConnection(c)
	c.Conn.Close()
}

// watchSubscription closes the socket when the notification channel drops
// the display, so the screen reconnects instead of freezing on a stale clock
func (c *Connection) watchSubscription(done <-chan struct{}) {
	<-done

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	log.Warn().
		Str("connection_id", c.ID).
		Str("display", c.Name).
		Str("fop_id", c.FOPID).
		Msg("display dropped by notification channel, closing connection")
	c.Manager.unregisterConnection(c)
	c.Conn.Close()
}

func (c *Connection) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.pending = nil
	close(c.Send)
}

// writePump handles sending messages to the websocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				// Channel was closed
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to websocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
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

// readPump handles reading messages from the websocket connection
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.mu.Lock()
		c.lastPing = time.Now()
		c.mu.Unlock()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected websocket close error")
			}
			break
		}

		// Screens are receive-only; commands go through the REST surface
		log.Debug().
			Str("connection_id", c.ID).
			Str("display", c.Name).
			Int("bytes", len(message)).
			Msg("ignoring client message")
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
