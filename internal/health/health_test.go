package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingerFunc func() error

func (f pingerFunc) Health() error   { return f() }
func (f pingerFunc) Writable() error { return f() }

type ctxPinger struct{ err error }

func (p ctxPinger) Ping(context.Context) error { return p.err }

func ok() error { return nil }

func get(t *testing.T, h http.HandlerFunc) (int, map[string]string) {
	t.Helper()
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/health/ready?full=1", nil))
	body := map[string]string{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w.Code, body
}

func TestChecker_Ready(t *testing.T) {
	tests := []struct {
		name       string
		opts       []Option
		wantStatus int
		failing    string
	}{
		{"demo mode without dependencies", nil, http.StatusOK, ""},
		{"all healthy", []Option{WithDatabase(pingerFunc(ok)), WithBlob(pingerFunc(ok)), WithRedis(ctxPinger{})}, http.StatusOK, ""},
		{"database down", []Option{WithDatabase(pingerFunc(func() error { return errors.New("refused") })), WithBlob(pingerFunc(ok))}, http.StatusServiceUnavailable, "database"},
		{"blob read-only", []Option{WithBlob(pingerFunc(func() error { return errors.New("read-only") }))}, http.StatusServiceUnavailable, "blob"},
		{"redis down", []Option{WithRedis(ctxPinger{err: errors.New("timeout")})}, http.StatusServiceUnavailable, "redis"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker(nil, tt.opts...)
			status, body := get(t, c.Ready)
			assert.Equal(t, tt.wantStatus, status)
			if tt.failing != "" {
				assert.NotEqual(t, "OK", body[tt.failing])
			}
		})
	}
}

func TestChecker_Live(t *testing.T) {
	c := NewChecker(nil, WithDatabase(pingerFunc(func() error { return errors.New("down") })))
	status, _ := get(t, c.Live)
	assert.Equal(t, http.StatusOK, status, "数据库故障不影响存活探针")

	c = NewChecker(nil, WithGoroutineThreshold(1))
	status, _ = get(t, c.Live)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}
