package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendPostsText(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	s := NewSlack(true, srv.URL)
	require.NoError(t, s.Send(context.Background(), FormatPattern("abc123def456", 5, "v1", "disk full")))
	assert.Contains(t, got["text"], "abc123def456")
	assert.Contains(t, got["text"], "count=5")
}

func TestSendDisabledIsNoop(t *testing.T) {
	assert.NoError(t, NewSlack(false, "http://127.0.0.1:1").Send(context.Background(), "x"))
	assert.NoError(t, NewSlack(true, "").Send(context.Background(), "x"))
	var s *Slack
	assert.False(t, s.Enabled())
}

func TestSendReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()
	assert.Error(t, NewSlack(true, srv.URL).Send(context.Background(), "x"))
}
