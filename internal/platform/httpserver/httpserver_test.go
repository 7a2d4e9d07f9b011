package httpserver

import (
	"context"
	"net/http"
	"testing"
	"time"

	"safebrowse.local/internal/platform/config"
)

func TestNew_UsesConfigAndHandler(t *testing.T) {
	cfg := config.Config{
		Addr:              "127.0.0.1:0",
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       3 * time.Second,
		WriteTimeout:      4 * time.Second,
		IdleTimeout:       5 * time.Second,
	}
	handler := http.NewServeMux()

	srv := New(cfg, handler)

	if srv.Addr != cfg.Addr {
		t.Fatalf("Addr: got %q, want %q", srv.Addr, cfg.Addr)
	}
	if srv.Handler != handler {
		t.Fatalf("Handler: got %T, want %T", srv.Handler, handler)
	}
	if srv.ReadTimeout != cfg.ReadTimeout || srv.WriteTimeout != cfg.WriteTimeout {
		t.Fatalf("timeouts: got %v/%v", srv.ReadTimeout, srv.WriteTimeout)
	}
	if srv.IdleTimeout != cfg.IdleTimeout {
		t.Fatalf("IdleTimeout: got %v, want %v", srv.IdleTimeout, cfg.IdleTimeout)
	}
	if srv.TLSConfig != nil {
		t.Fatal("expected no TLS config without cert/key")
	}
}

func TestNew_TLSConfigWhenCertConfigured(t *testing.T) {
	cfg := config.Config{Addr: "127.0.0.1:0", TLSCertFile: "cert.pem", TLSKeyFile: "key.pem"}
	srv := New(cfg, http.NewServeMux())
	if srv.TLSConfig == nil {
		t.Fatal("expected TLS config")
	}
}

func TestRunWithGracefulShutdownContext_CancelStopsServer(t *testing.T) {
	cfg := config.Config{
		Addr:              "127.0.0.1:0",
		ReadHeaderTimeout: 500 * time.Millisecond,
		ReadTimeout:       500 * time.Millisecond,
		WriteTimeout:      500 * time.Millisecond,
		IdleTimeout:       500 * time.Millisecond,
	}
	srv := New(cfg, http.NewServeMux())

	stopCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- RunWithGracefulShutdownContext(srv, 500*time.Millisecond, stopCtx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for shutdown")
	}
}

func TestRunAll_ListenErrorStopsOthers(t *testing.T) {
	ok := New(config.Config{Addr: "127.0.0.1:0"}, http.NewServeMux())
	bad := New(config.Config{Addr: "256.0.0.1:bad"}, http.NewServeMux())

	done := make(chan error, 1)
	go func() {
		done <- RunAll(context.Background(), 500*time.Millisecond, Listener{Server: ok}, Listener{Server: bad})
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected listen error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for RunAll to return")
	}
}
