// Package feed serves tracker projections to remote UI consumers over
// websockets. Every connected client receives the current projection on
// connect and each published one after; the tracker never waits on a slow
// client because delivery rides the latest-wins projection bus.
package feed

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/B-Whitt/skillwatch/pkg/bus"
	"github.com/B-Whitt/skillwatch/pkg/logger"
)

const writeTimeout = 10 * time.Second

// Server is the websocket feed endpoint.
type Server struct {
	addr string
	pbus *bus.ProjectionBus

	upgrader websocket.Upgrader
	httpSrv  *http.Server

	mu     sync.RWMutex
	last   *bus.Projection
	stop   func()
	lnAddr string
}

// New builds an unstarted server publishing the given bus at addr.
func New(addr string, pbus *bus.ProjectionBus) *Server {
	return &Server{
		addr: addr,
		pbus: pbus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The feed binds to loopback by default; remote deployments
			// front it with their own origin policy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Start begins listening. It returns once the listener is bound so callers
// can treat an occupied port as a startup error rather than a late log line.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.lnAddr = ln.Addr().String()

	// Track the latest projection for /healthz and new connections.
	ch, cancel := s.pbus.Subscribe()
	s.stop = cancel
	go func() {
		for p := range ch {
			proj := p
			s.mu.Lock()
			s.last = &proj
			s.mu.Unlock()
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealthz)
	s.httpSrv = &http.Server{Handler: mux}

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("feed", "Feed server stopped", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	logger.InfoCF("feed", "Feed listening", map[string]interface{}{"addr": ln.Addr().String()})
	return nil
}

// Addr returns the bound listen address, useful when configured with
// port 0.
func (s *Server) Addr() string {
	return s.lnAddr
}

// Shutdown stops accepting connections and closes existing ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.stop != nil {
		s.stop()
	}
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnCF("feed", "Upgrade failed", map[string]interface{}{
			"remote": r.RemoteAddr,
			"error":  err.Error(),
		})
		return
	}
	defer conn.Close()

	logger.DebugCF("feed", "Client connected", map[string]interface{}{"remote": r.RemoteAddr})

	ch, cancel := s.pbus.Subscribe()
	defer cancel()

	// Reader goroutine only notices the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case p, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(p); err != nil {
				logger.DebugCF("feed", "Client write failed", map[string]interface{}{
					"remote": r.RemoteAddr,
					"error":  err.Error(),
				})
				return
			}
		}
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	last := s.last
	s.mu.RUnlock()

	resp := map[string]interface{}{"status": "ok", "runningCount": 0}
	if last != nil {
		resp["runningCount"] = last.RunningCount
		resp["generatedAt"] = last.GeneratedAt
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
