// SPDX-License-Identifier: ice License 1.0

// Package server wires the bridge, the live reload hub and the document template onto one
// gin engine and runs it behind a single local listener.
package server

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	stdlibtime "time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-multierror"
	"github.com/rcrowley/go-metrics"
	"golang.org/x/net/netutil"

	"github.com/ice-blockchain/devbridge/bridge"
	"github.com/ice-blockchain/devbridge/document"
	"github.com/ice-blockchain/devbridge/hmr"
	"github.com/ice-blockchain/devbridge/sandbox"
)

// New builds the router. The bridge middlewares go in first, so every route registered
// afterwards (the hmr channel included) sits behind them. documentCfg may be nil.
func New(cfg *Config, dispatcher sandbox.Dispatcher, bridgeCfg *bridge.Config, documentCfg *document.Config) (*Server, error) {
	if cfg == nil {
		cfg = new(Config)
	}
	s := &Server{router: gin.New(), hub: hmr.New(), cfg: cfg}
	if bridgeCfg == nil {
		bridgeCfg = new(bridge.Config)
	}
	hmrPath := bridgeCfg.HMRPath
	if hmrPath == "" {
		hmrPath = bridge.DefaultHMRPath
	}
	s.documentPath = bridgeCfg.DocumentPath
	if s.documentPath == "" {
		s.documentPath = bridge.DefaultDocumentPath
	}
	var doc bridge.Document
	if documentCfg != nil {
		docCfg := *documentCfg
		if docCfg.HMRPath == "" {
			docCfg.HMRPath = hmrPath
		}
		tmpl, err := document.New(&docCfg, document.HMRClient(docCfg.HMRPath))
		if err != nil {
			return nil, errors.Wrap(err, "failed to load document template")
		}
		tmpl.OnChange(s.reload)
		s.document, doc = tmpl, tmpl
	}
	b, err := bridge.New(s.router, dispatcher, doc, bridgeCfg)
	if err != nil {
		return nil, multierror.Append(errors.Wrap(err, "failed to set up bridge"), s.closeDocument()).ErrorOrNil()
	}
	s.bridge = b
	s.router.GET(b.Config().HMRPath, s.hub.Handle)

	return s, nil
}

func (s *Server) Router() *Router {
	return s.router
}

func (s *Server) Bridge() *bridge.Bridge {
	return s.bridge
}

func (s *Server) Hub() *hmr.Hub {
	return s.hub
}

// ListenAndServe blocks until ctx is done, a termination signal arrives or serving fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port)))
	if err != nil {
		return multierror.Append(errors.Wrapf(err, "failed to listen on %v:%v", s.cfg.Host, s.cfg.Port), s.shutDown()).ErrorOrNil()
	}

	return s.Serve(ctx, listener)
}

func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	if s.cfg.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, s.cfg.MaxConnections)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.server = &http.Server{ //nolint:exhaustruct // .
		Handler:           s.router,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}
	serveErr := make(chan error, 1)
	go s.startServer(listener, serveErr)
	if s.cfg.MetricsInterval > 0 {
		go s.logMetrics(ctx)
	}
	err := s.wait(ctx, serveErr)

	return multierror.Append(err, s.shutDown()).ErrorOrNil() //nolint:contextcheck // Shutdown gets its own context.
}

func (s *Server) startServer(listener net.Listener, serveErr chan<- error) {
	defer log.Printf("server stopped listening")
	log.Printf("server started listening on %v...", listener.Addr())
	if err := s.server.Serve(listener); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, http.ErrServerClosed) {
		serveErr <- errors.Wrap(err, "server.Serve failed")
	}
	close(serveErr)
}

func (s *Server) wait(ctx context.Context, serveErr <-chan error) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)
	select {
	case <-ctx.Done():
	case <-quit:
	case err := <-serveErr:
		return err
	}

	return nil
}

// shutDown stops accepting, tears down bridged websockets (they are hijacked, so the http server
// no longer tracks them) and releases the hub and the template watcher.
func (s *Server) shutDown() error {
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	log.Printf("shutting down server...")
	var mErr *multierror.Error
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil && !errors.Is(err, io.EOF) {
			mErr = multierror.Append(mErr, errors.Wrap(err, "server shutdown failed"))
		}
	}
	if s.bridge != nil {
		mErr = multierror.Append(mErr, s.bridge.Close(ctx))
	}
	mErr = multierror.Append(mErr, s.hub.Close(), s.closeDocument())
	if err := mErr.ErrorOrNil(); err != nil {
		log.Printf("ERROR:%v", err)

		return err
	}
	log.Printf("server shutdown succeeded")

	return nil
}

func (s *Server) closeDocument() error {
	if s.document == nil {
		return nil
	}

	return errors.Wrap(s.document.Close(), "failed to close document template")
}

func (s *Server) reload(path string) {
	log.Printf("%v changed, reloading %v browser(s)", path, s.hub.Clients())
	if err := s.hub.Reload(s.documentPath); err != nil {
		log.Printf("ERROR:%v", errors.Wrap(err, "failed to notify browsers about the document change"))
	}
}

func (s *Server) logMetrics(ctx context.Context) {
	ticker := stdlibtime.NewTicker(s.cfg.MetricsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.WriteOnce(s.bridge.Metrics(), log.Writer())
		}
	}
}
