package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestServeStopsWithContext(t *testing.T) {
	for _, addr := range []string{"", "127.0.0.1:0"} {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- Serve(ctx, addr, prometheus.NewRegistry()) }()

		time.Sleep(20 * time.Millisecond)
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err, addr)
		case <-time.After(2 * time.Second):
			t.Fatalf("Serve(%q) did not return after cancel", addr)
		}
	}
}

func TestServeReportsListenErrors(t *testing.T) {
	err := Serve(context.Background(), "256.0.0.1:bad", prometheus.NewRegistry())
	require.Error(t, err)
}
