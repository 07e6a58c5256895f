// Package control предоставляет HTTP API управления публикацией и
// экспорт метрик.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pion/sdp/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arzzra/live_publish/pkg/publish"
)

// Publisher операции публикатора, доступные через API
type Publisher interface {
	StartRecord(location string) bool
	StopRecord() bool
	StartStream(host string, audioPort, videoPort int) bool
	StopStream() bool
	SessionDescription() (*sdp.SessionDescription, error)
	RemoveBranch(id string) bool
	Branches() []publish.BranchInfo
	Recording() bool
	Streaming() bool
}

// Server HTTP сервер управления
type Server struct {
	router    *gin.Engine
	publisher Publisher
	logger    *slog.Logger

	srv *http.Server
}

// NewServer создает сервер. Если gatherer не nil, метрики отдаются на
// /metrics.
func NewServer(publisher Publisher, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router:    router,
		publisher: publisher,
		logger:    logger.With(slog.String("component", "control")),
	}
	s.setupRoutes(gatherer)
	return s
}

func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/branches", s.listBranches)
		v1.DELETE("/branches/:id", s.removeBranch)
		v1.POST("/record", s.startRecord)
		v1.DELETE("/record", s.stopRecord)
		v1.POST("/stream", s.startStream)
		v1.DELETE("/stream", s.stopStream)
		v1.GET("/stream/sdp", s.streamSDP)
	}

	if gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}

// Handler возвращает обработчик HTTP запросов
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start начинает обслуживать запросы на addr. Возвращает фактический адрес.
func (s *Server) Start(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("listen %s: %w", addr, err)
	}

	s.srv = &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP сервер остановлен", slog.String("error", err.Error()))
		}
	}()

	s.logger.Info("HTTP API запущен", slog.String("addr", ln.Addr().String()))
	return ln.Addr().String(), nil
}

// Shutdown останавливает сервер
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
