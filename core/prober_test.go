package core

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"pkt.systems/sitesmith/schema"
)

func serverPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	_, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return port
}

func TestProbeUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	health := HTTPProber{}.Probe(context.Background(), serverPort(t, srv), time.Second)
	if health != schema.HealthUp {
		t.Fatalf("expected UP, got %s", health)
	}
	if !health.Serving() {
		t.Fatalf("UP must count as serving")
	}
}

func TestProbeUpWithError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	health := HTTPProber{}.Probe(context.Background(), serverPort(t, srv), time.Second)
	if health != schema.HealthUpWithError {
		t.Fatalf("expected UP_WITH_ERROR, got %s", health)
	}
	if !health.Serving() {
		t.Fatalf("UP_WITH_ERROR must count as serving")
	}
}

func TestProbeDown(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	_ = listener.Close()

	health := HTTPProber{}.Probe(context.Background(), port, 500*time.Millisecond)
	if health != schema.HealthDown {
		t.Fatalf("expected DOWN, got %s", health)
	}
	if health.Serving() {
		t.Fatalf("DOWN must not count as serving")
	}
}
