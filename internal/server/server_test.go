package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, net.Listener) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	s := New(handler, Options{ShutdownTimeout: time.Second}, logger)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return s, ln
}

func TestServe_StopsComponentsInReverseOrder(t *testing.T) {
	s, ln := newTestServer(t)

	var order []string
	for _, name := range []string{"redis", "reconcile_worker"} {
		s.OnShutdown(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String())
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusNoContent
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []string{"reconcile_worker", "redis"}, order)
}

func TestServe_JoinsComponentErrors(t *testing.T) {
	s, ln := newTestServer(t)

	boom := errors.New("flush failed")
	stopped := false
	s.OnShutdown("postgres", func(context.Context) error {
		stopped = true
		return nil
	})
	s.OnShutdown("reconcile_worker", func(context.Context) error { return boom })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Serve(ctx, ln)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "reconcile_worker")
	assert.True(t, stopped, "a failing component must not stop the rest")
}
