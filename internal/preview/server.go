// Package preview serves the annotated view over HTTP: a browser page,
// the live MJPEG stream, pipeline status and a snapshot trigger.
package preview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hybridgroup/mjpeg"

	"github.com/BorikGor/ESEProject/internal/types"
)

// StatusProvider supplies the pipeline status snapshot.
type StatusProvider interface {
	Status() types.PipelineStatus
}

// SnapshotTrigger writes the current annotated view to disk and returns
// the path.
type SnapshotTrigger interface {
	TriggerSnapshot() (string, error)
}

// Server is the HTTP preview server. It doubles as the pipeline's frame
// sink: UpdateJPEG pushes each rendered view to connected stream clients.
type Server struct {
	listen string
	log    *slog.Logger

	stream *mjpeg.Stream
	status StatusProvider
	snap   SnapshotTrigger

	router *gin.Engine
	srv    *http.Server
}

// New creates the preview server. Nothing listens until Start.
func New(listen string, status StatusProvider, snap SnapshotTrigger, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		listen: listen,
		log:    log,
		stream: mjpeg.NewStream(),
		status: status,
		snap:   snap,
	}

	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	g.Use(gin.Recovery())
	g.GET("/", s.handleIndex)
	g.GET("/stream", gin.WrapH(s.stream))
	g.GET("/api/status", s.handleStatus)
	g.POST("/api/snapshot", s.handleSnapshot)
	s.router = g

	return s
}

// UpdateJPEG pushes a rendered view to all connected stream clients.
func (s *Server) UpdateJPEG(jpeg []byte) {
	s.stream.UpdateJPEG(jpeg)
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:        s.listen,
		Handler:     s.router,
		ReadTimeout: 5 * time.Second,
		// No write timeout: /stream is a long-lived multipart response
		IdleTimeout: 60 * time.Second,
	}

	s.log.Info("starting preview server",
		"listen", s.listen,
		"endpoints", []string{"/", "/stream", "/api/status", "/api/snapshot"},
	)

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("preview server failed", "error", err)
		}
	}()

	return nil
}

// Shutdown stops the server, waiting for in-flight requests up to the
// context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

const indexHTML = `<!DOCTYPE html>
<html>
<head><title>%s</title>
<style>body{background:#111;color:#eee;font-family:sans-serif;text-align:center}img{max-width:100%%;border:1px solid #444}</style>
</head>
<body>
<h2>%s</h2>
<img src="/stream" alt="live view">
<p><a href="/api/status" style="color:#8cf">status</a></p>
</body>
</html>
`

func (s *Server) handleIndex(c *gin.Context) {
	id := s.status.Status().InstanceID
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(fmt.Sprintf(indexHTML, id, id)))
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.status.Status())
}

func (s *Server) handleSnapshot(c *gin.Context) {
	path, err := s.snap.TriggerSnapshot()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": path})
}
