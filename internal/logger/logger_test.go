package logger

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFallsBackToInfo(t *testing.T) {
	for _, lvl := range []string{"", "nonsense"} {
		l := New(lvl)
		assert.Equal(t, zerolog.InfoLevel, l.GetLevel(), "level %q", lvl)
	}
	assert.Equal(t, zerolog.DebugLevel, New("DEBUG").GetLevel())
}

func TestHTTPMiddlewareLogsStatus(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{zerolog.New(&buf)}
	h := l.HTTP(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "GET", line["method"])
	assert.Equal(t, "/health", line["path"])
	assert.EqualValues(t, http.StatusTeapot, line["status"])
}
