// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/gatehouse/pkg/errutil"
)

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestServer_MetricsIncludeRegistrars(t *testing.T) {
	sample := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gatehouse_test_sample_total",
		Help: "Test counter",
	})
	sample.Inc()

	s := NewServer("127.0.0.1:0", nil, nil,
		BuildInfo("1.2.0"),
		func(reg prometheus.Registerer) { reg.MustRegister(sample) },
	)

	code, body := get(t, s.Handler(), "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "go_goroutines")
	assert.Contains(t, body, "process_")
	assert.Contains(t, body, `gatehouse_build_info{version="1.2.0"} 1`)
	assert.Contains(t, body, "gatehouse_test_sample_total 1")
}

func TestServer_Liveness(t *testing.T) {
	s := NewServer("127.0.0.1:0", func(context.Context) error { return errors.New("down") }, nil)
	code, body := get(t, s.Handler(), "/healthz/liveness")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok\n", body)
}

func TestServer_Readiness(t *testing.T) {
	tests := []struct {
		name  string
		ready ReadinessChecker
		code  int
	}{
		{"no checker", nil, http.StatusOK},
		{"ready", func(context.Context) error { return nil }, http.StatusOK},
		{"not ready", func(context.Context) error { return errors.New("store sealed") }, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := get(t, NewServer("127.0.0.1:0", tt.ready, nil).Handler(), "/healthz/readiness")
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestServer_StartServesAndStops(t *testing.T) {
	s := NewServer("127.0.0.1:0", nil, nil)
	errCh, err := s.Start()
	require.NoError(t, err)
	require.NotEmpty(t, s.Addr())

	resp, err := http.Get("http://" + s.Addr() + "/healthz/liveness")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = s.Start()
	errutil.AssertErrorCode(t, err, "OBSERVABILITY_RUNNING")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx), "stop is idempotent")

	_, open := <-errCh
	assert.False(t, open, "error channel closes on clean shutdown")
}

func TestServer_StartFailsOnBadAddress(t *testing.T) {
	_, err := NewServer("256.0.0.1:bad", nil, nil).Start()
	errutil.AssertErrorCode(t, err, "OBSERVABILITY_LISTEN_FAILED")
}
