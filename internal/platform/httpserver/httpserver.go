package httpserver

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"safebrowse.local/internal/platform/config"
)

func New(cfg config.Config, handler http.Handler) *http.Server {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		Addr:              cfg.Addr,
	}
	if cfg.TLSEnabled() {
		srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return srv
}

// Listener 描述一个待启动的 server；CertFile/KeyFile 都非空时走 TLS
type Listener struct {
	Server   *http.Server
	CertFile string
	KeyFile  string
}

func (l Listener) serve() error {
	if l.CertFile != "" && l.KeyFile != "" {
		return l.Server.ListenAndServeTLS(l.CertFile, l.KeyFile)
	}
	return l.Server.ListenAndServe()
}

func RunWithGracefulShutdown(srv *http.Server, shutdownTimeout time.Duration) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return RunWithGracefulShutdownContext(srv, shutdownTimeout, ctx)
}

func RunWithGracefulShutdownContext(srv *http.Server, shutdownTimeout time.Duration, stopCtx context.Context) error {
	return RunAll(stopCtx, shutdownTimeout, Listener{Server: srv})
}

// RunAll 同时启动多个 server（对外 API + admin），任意一个异常退出或 stopCtx
// 结束时统一优雅关闭全部 server
func RunAll(stopCtx context.Context, shutdownTimeout time.Duration, listeners ...Listener) error {
	errCh := make(chan error, len(listeners))
	for _, l := range listeners {
		go func(l Listener) {
			errCh <- l.serve()
		}(l)
	}

	var runErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	case <-stopCtx.Done():
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, l := range listeners {
		if err := l.Server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) && runErr == nil {
			runErr = err
		}
	}
	return runErr
}
