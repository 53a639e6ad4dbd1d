// Package adminhttp is the ambient operational surface every agent
// carries: health, stats, and (Kitchen only) the spectator websocket
// upgrade. None of it sits on the order pipeline's critical path.
package adminhttp

import (
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"kitchen-sim/internal/events"
	"kitchen-sim/internal/spectate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Server is the gin-backed admin surface. Ready flips true once the
// owning agent's worker loop is running, so /healthz can answer
// honestly instead of always 200.
type Server struct {
	engine *gin.Engine
	ready  atomic.Bool
	stats  *events.Stats
	hub    *spectate.Hub // nil for agents other than Kitchen
}

// New builds a Server. hub may be nil — only the Kitchen process
// wires a spectate.Hub and exposes /ws/spectate.
func New(stats *events.Stats, hub *spectate.Hub) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{engine: gin.New(), stats: stats, hub: hub}

	s.engine.GET("/healthz", s.healthz)
	s.engine.GET("/stats", s.getStats)
	if hub != nil {
		s.engine.GET("/ws/spectate", s.serveSpectate)
	}
	return s
}

// SetReady marks the agent as having completed startup; called once
// the worker queue and bus servers are up.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// ListenAndServe blocks serving on addr. Call it from its own
// goroutine — it is not on any agent's shutdown-ordering critical
// path (§5: the worker and bus servers are torn down independently).
func (s *Server) ListenAndServe(addr string) error {
	return s.engine.Run(addr)
}

func (s *Server) healthz(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.stats.Snapshot())
}

func (s *Server) serveSpectate(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	s.hub.AddClient(conn)
	defer s.hub.RemoveClient(conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
