package api

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

type Server struct {
	logger     *zap.Logger
	httpServer *http.Server
}

func NewServer(log *zap.Logger, handler *Handler, address string) *Server {
	return &Server{
		logger: log,
		httpServer: &http.Server{
			Addr:    address,
			Handler: handler.Routes(),
		},
	}
}

func (s *Server) Run() {
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		s.logger.Info("argus api quit")
		return
	}
	s.logger.Fatal("ListenAndServe() failed", zap.Error(err))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
