// Package api serves backtests, stored runs and parameter overrides over
// HTTP, and backtests over gRPC.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"

	"dipsniper/internal/backtest"
	"dipsniper/internal/store"
	"dipsniper/internal/tradeparams"
)

// Options configures a Server.
type Options struct {
	HTTPAddr    string
	GRPCAddr    string
	Market      string
	InitialCash float64
}

// Server hosts the HTTP and gRPC endpoints.
type Server struct {
	bt     *backtest.Backtester
	runs   store.RunStore
	params *tradeparams.Store
	opts   Options
	log    *slog.Logger

	httpSrv *http.Server
	grpcSrv *grpc.Server
}

// NewServer creates a Server. runs and params may be nil, which disables
// their endpoints.
func NewServer(bt *backtest.Backtester, runs store.RunStore, params *tradeparams.Store, opts Options) *Server {
	if opts.InitialCash <= 0 {
		opts.InitialCash = 10_000_000
	}
	if opts.Market == "" {
		opts.Market = "us"
	}
	s := &Server{
		bt:     bt,
		runs:   runs,
		params: params,
		opts:   opts,
		log:    slog.Default().With("component", "api"),
	}
	s.grpcSrv = grpc.NewServer()
	s.RegisterGRPC(s.grpcSrv)
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// RegisterGRPC registers the backtest service on gs.
func (s *Server) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&BacktestServiceDesc, &backtestService{srv: s})
}

// ListenAndServe starts the HTTP and gRPC listeners and blocks until ctx
// is cancelled or either server fails. Cancellation shuts both down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpLn, err := net.Listen("tcp", s.opts.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.opts.HTTPAddr, err)
	}
	grpcLn, err := net.Listen("tcp", s.opts.GRPCAddr)
	if err != nil {
		httpLn.Close()
		return fmt.Errorf("listening on %s: %w", s.opts.GRPCAddr, err)
	}

	errCh := make(chan error, 2)
	go func() {
		s.log.Info("http listening", "addr", httpLn.Addr().String())
		if err := s.httpSrv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		s.log.Info("grpc listening", "addr", grpcLn.Addr().String())
		if err := s.grpcSrv.Serve(grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	stopped := make(chan struct{})
	go func() {
		s.grpcSrv.GracefulStop()
		close(stopped)
	}()
	err := s.httpSrv.Shutdown(ctx)
	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcSrv.Stop()
	}
	s.log.Info("servers stopped")
	return err
}
