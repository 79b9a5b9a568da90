package voxbooth

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// visConsumeTimeout bounds the consumer wait so shutdown is observed
// promptly even when no audio flows.
const visConsumeTimeout = 100 * time.Millisecond

// VisFeed is the bounded, lossy transfer queue between the capture
// callback and the visualization consumer. The producer never blocks:
// when the queue is full the block is silently dropped, because the
// visualization is loss-tolerant and the capture callback is not allowed
// to wait.
type VisFeed struct {
	blocks chan []float32
	active atomic.Bool
}

// NewVisFeed creates a feed with the given queue capacity.
func NewVisFeed(capacity int) *VisFeed {
	if capacity <= 0 {
		capacity = 32
	}
	return &VisFeed{blocks: make(chan []float32, capacity)}
}

// SetActive enables or disables the feed. While inactive, Offer drops
// everything, so capture pays nothing when no UI is watching.
func (f *VisFeed) SetActive(active bool) {
	f.active.Store(active)
}

// Active reports whether a consumer wants audio.
func (f *VisFeed) Active() bool {
	return f.active.Load()
}

// Offer enqueues a copy of the block without blocking. Returns false if
// the block was dropped (feed inactive or queue full).
func (f *VisFeed) Offer(block []float32) bool {
	if !f.active.Load() {
		return false
	}
	// The callback's slice is reused by the driver; hand the consumer its
	// own copy.
	c := make([]float32, len(block))
	copy(c, block)
	select {
	case f.blocks <- c:
		return true
	default:
		return false
	}
}

// Next waits up to timeout for the next block.
func (f *VisFeed) Next(timeout time.Duration) ([]float32, bool) {
	select {
	case block := <-f.blocks:
		return block, true
	case <-time.After(timeout):
		return nil, false
	}
}

// VisFrame is one JSON message pushed to visualization clients.
type VisFrame struct {
	Type       string    `json:"type"`
	RMSDB      float64   `json:"rms_db,omitempty"`
	PeakDB     float64   `json:"peak_db,omitempty"`
	PeakHoldDB float64   `json:"peak_hold_db,omitempty"`
	FrameCount uint64    `json:"frame_count,omitempty"`
	Samples    []float32 `json:"samples,omitempty"`
}

// VisServer bridges the capture feed and the shared level state to UI
// clients over a websocket. Slow clients are dropped rather than allowed
// to back-pressure the feed.
type VisServer struct {
	feed     *VisFeed
	state    *SharedState
	server   *http.Server
	upgrader websocket.Upgrader
	logger   *VoxLogger

	mu        sync.Mutex
	clients   map[*websocket.Conn]struct{}
	lastFrame uint64
	done      chan struct{}
}

// NewVisServer creates a visualization server on addr.
func NewVisServer(feed *VisFeed, state *SharedState, addr string) *VisServer {
	s := &VisServer{
		feed:    feed,
		state:   state,
		clients: make(map[*websocket.Conn]struct{}),
		done:    make(chan struct{}),
		logger:  GetGlobalLogger().WithComponent("VisServer"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	s.server = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start begins serving and broadcasting.
func (s *VisServer) Start() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("visualization server failed")
		}
	}()
	go s.broadcastLoop()
	s.logger.Infof("visualization feed on ws://%s/ws", s.server.Addr)
}

// Stop closes the server and all client connections.
func (s *VisServer) Stop(ctx context.Context) {
	close(s.done)
	s.mu.Lock()
	for conn := range s.clients {
		conn.Close()
	}
	s.clients = make(map[*websocket.Conn]struct{})
	s.mu.Unlock()
	_ = s.server.Shutdown(ctx)
}

func (s *VisServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}
	s.mu.Lock()
	s.clients[conn] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()
	s.feed.SetActive(true)
	s.logger.Infof("visualization client connected (%d total)", n)
}

func (s *VisServer) broadcastLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		block, ok := s.feed.Next(visConsumeTimeout)
		if !ok {
			// Timeout: still push a level frame if the meter moved.
			s.broadcastLevel()
			continue
		}
		s.broadcast(VisFrame{Type: "audio", Samples: block})
		s.broadcastLevel()
	}
}

func (s *VisServer) broadcastLevel() {
	level := s.state.LevelMeter()
	if !level.Valid || level.FrameCount == s.lastFrame {
		return
	}
	s.lastFrame = level.FrameCount
	s.broadcast(VisFrame{
		Type:       "level",
		RMSDB:      level.RMSDB,
		PeakDB:     level.PeakDB,
		PeakHoldDB: level.PeakHoldDB,
		FrameCount: level.FrameCount,
	})
}

func (s *VisServer) broadcast(frame VisFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		conn.SetWriteDeadline(time.Now().Add(visConsumeTimeout))
		if err := conn.WriteJSON(frame); err != nil {
			conn.Close()
			delete(s.clients, conn)
		}
	}
	if len(s.clients) == 0 {
		s.feed.SetActive(false)
	}
}
