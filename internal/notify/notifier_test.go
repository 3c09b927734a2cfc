package notify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scholarrelay/inkgate/internal/notify"
)

func TestNotifyDeliversJSON(t *testing.T) {
	var got notify.Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := notify.NewHTTPNotifier(5 * time.Second)
	err := n.Notify(context.Background(), srv.URL, notify.Notification{
		JobID:  "req1",
		Status: "completed",
		Report: json.RawMessage(`{"score":42}`),
	})
	require.NoError(t, err)

	assert.Equal(t, "req1", got.JobID)
	assert.Equal(t, "completed", got.Status)
	assert.JSONEq(t, `{"score":42}`, string(got.Report))
	assert.False(t, got.SentAt.IsZero())
}

func TestNotifyNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := notify.NewHTTPNotifier(5 * time.Second)
	err := n.Notify(context.Background(), srv.URL, notify.Notification{JobID: "req1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestNotifyUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	n := notify.NewHTTPNotifier(time.Second)
	err := n.Notify(context.Background(), srv.URL, notify.Notification{JobID: "req1"})
	assert.Error(t, err)
}
