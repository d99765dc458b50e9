/*
Package wsfeed implements a WebSocket server streaming multiplexer events
received from a feed to connected clients as JSON messages.
*/
package wsfeed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nspcc-dev/chainmux/pkg/config"
	"github.com/nspcc-dev/chainmux/pkg/signalmux/feed"
	"go.uber.org/zap"
)

const (
	// Disconnection timeout.
	wsPongLimit = 60 * time.Second

	// Ping period for connection liveness check.
	wsPingPeriod = wsPongLimit / 2

	// Write deadline.
	wsWriteLimit = wsPingPeriod / 2

	// Maximum size of a message received from client, nothing is expected
	// except control frames.
	wsReadLimit = 1024

	// Number of messages queued per client before it's disconnected.
	clientBufSize = 128

	// Size of the feed channel.
	eventBufSize = 64
)

type client struct {
	ws        *websocket.Conn
	writer    chan *websocket.PreparedMessage
	overflown atomic.Bool
}

// Server streams feed events to WebSocket clients connected to /ws.
type Server struct {
	config   config.WSFeed
	feed     *feed.Feed
	log      *zap.Logger
	upgrader websocket.Upgrader
	http     []*http.Server

	started  atomic.Bool
	subID    uuid.UUID
	events   chan feed.Event
	shutdown chan struct{}
	done     chan struct{}

	subsLock sync.RWMutex
	clients  map[*client]struct{}
}

// New creates a Server reading events from the given feed. The feed must be
// started before the Server.
func New(cfg config.WSFeed, f *feed.Feed, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxClients == 0 {
		cfg.MaxClients = config.DefaultWSMaxClients
		log.Info("MaxClients is not set or wrong, setting default value", zap.Int("MaxClients", cfg.MaxClients))
	}
	s := &Server{
		config:   cfg,
		feed:     f,
		log:      log.With(zap.String("service", "WSFeed")),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		events:   make(chan feed.Event, eventBufSize),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		clients:  make(map[*client]struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	for _, addr := range cfg.GetAddresses() {
		s.http = append(s.http, &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: wsWriteLimit,
		})
	}
	return s
}

// Name returns the service name.
func (s *Server) Name() string {
	return "wsfeed"
}

// Handler returns the HTTP handler serving WebSocket connections, it can be
// used to serve them without the configured listeners.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleWS)
}

// Start subscribes to the feed and starts listening on the configured
// addresses. It's a no-op for a disabled service.
func (s *Server) Start() error {
	if !s.config.Enabled {
		s.log.Info("service hasn't started since it's disabled")
		return nil
	}
	if !s.started.CompareAndSwap(false, true) {
		s.log.Info("service already started")
		return nil
	}
	id, err := s.feed.Subscribe(s.events)
	if err != nil {
		return fmt.Errorf("failed to subscribe to feed: %w", err)
	}
	s.subID = id
	go s.handleEvents()

	for _, srv := range s.http {
		s.log.Info("starting service", zap.String("endpoint", srv.Addr))
		ln, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", srv.Addr, err)
		}
		srv.Addr = ln.Addr().String()
		go func(srv *http.Server) {
			err := srv.Serve(ln)
			if !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("failed to start service", zap.String("endpoint", srv.Addr), zap.Error(err))
			}
		}(srv)
	}
	return nil
}

// Addresses returns the addresses the server listens on.
func (s *Server) Addresses() []string {
	res := make([]string, 0, len(s.http))
	for _, srv := range s.http {
		res = append(res, srv.Addr)
	}
	return res
}

// Shutdown stops listeners, disconnects all clients and unsubscribes from
// the feed.
func (s *Server) Shutdown() {
	if !s.started.CompareAndSwap(true, false) {
		return
	}
	for _, srv := range s.http {
		s.log.Info("shutting down service", zap.String("endpoint", srv.Addr))
		if err := srv.Shutdown(context.Background()); err != nil {
			s.log.Error("can't shut service down", zap.String("endpoint", srv.Addr), zap.Error(err))
		}
	}
	close(s.shutdown)
	<-s.done

	s.subsLock.Lock()
	for c := range s.clients {
		c.ws.Close()
	}
	s.subsLock.Unlock()
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.subsLock.RLock()
	defer s.subsLock.RUnlock()
	return len(s.clients)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "only GET is supported", http.StatusMethodNotAllowed)
		return
	}
	// There is a tiny race between this check and the clients map
	// modification below, some additional clients may sneak in.
	if s.Clients() >= s.config.MaxClients {
		http.Error(w, "websocket clients limit reached", http.StatusServiceUnavailable)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Info("websocket connection upgrade failed", zap.Error(err))
		return
	}
	c := &client{ws: ws, writer: make(chan *websocket.PreparedMessage, clientBufSize)}
	s.subsLock.Lock()
	s.clients[c] = struct{}{}
	s.subsLock.Unlock()
	s.log.Debug("client connected", zap.String("remote", r.RemoteAddr))

	go s.handleWsWrites(c)
	s.handleWsReads(c)
}

func (s *Server) handleWsWrites(c *client) {
	pingTicker := time.NewTicker(wsPingPeriod)
eventloop:
	for {
		select {
		case <-s.shutdown:
			break eventloop
		case msg, ok := <-c.writer:
			if !ok {
				break eventloop
			}
			if err := c.ws.SetWriteDeadline(time.Now().Add(wsWriteLimit)); err != nil {
				break eventloop
			}
			if err := c.ws.WritePreparedMessage(msg); err != nil {
				break eventloop
			}
		case <-pingTicker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(wsWriteLimit)); err != nil {
				break eventloop
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				break eventloop
			}
		}
	}
	c.ws.Close()
	pingTicker.Stop()
}

func (s *Server) handleWsReads(c *client) {
	c.ws.SetReadLimit(wsReadLimit)
	err := c.ws.SetReadDeadline(time.Now().Add(wsPongLimit))
	c.ws.SetPongHandler(func(string) error { return c.ws.SetReadDeadline(time.Now().Add(wsPongLimit)) })
	for err == nil {
		_, _, err = c.ws.ReadMessage()
	}
	s.subsLock.Lock()
	delete(s.clients, c)
	s.subsLock.Unlock()
	c.ws.Close()
	s.log.Debug("client disconnected", zap.Error(err))
}

// handleEvents broadcasts feed events to clients. A client that doesn't keep
// up with the events is disconnected.
func (s *Server) handleEvents() {
	defer close(s.done)
	for {
		var e feed.Event
		select {
		case <-s.shutdown:
			s.drain()
			return
		case e = <-s.events:
		}
		b, err := marshal(e)
		if err != nil {
			s.log.Error("failed to marshal event", zap.Stringer("type", e.Type), zap.Error(err))
			continue
		}
		msg, err := websocket.NewPreparedMessage(websocket.TextMessage, b)
		if err != nil {
			s.log.Error("failed to prepare event message", zap.Stringer("type", e.Type), zap.Error(err))
			continue
		}
		s.subsLock.RLock()
		for c := range s.clients {
			if c.overflown.Load() {
				continue
			}
			select {
			case c.writer <- msg:
			default:
				c.overflown.Store(true)
				s.log.Info("client is too slow, disconnecting")
				c.ws.Close()
			}
		}
		s.subsLock.RUnlock()
	}
}

// drain reads the events channel until the feed dispatcher is able to
// process the unsubscription.
func (s *Server) drain() {
	unsubscribed := make(chan struct{})
	go func() {
		s.feed.Unsubscribe(s.subID)
		close(unsubscribed)
	}()
	for {
		select {
		case <-s.events:
		case <-unsubscribed:
			return
		}
	}
}
