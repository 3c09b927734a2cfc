package analysis_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scholarrelay/inkgate/internal/analysis"
)

func TestAnalyzeSuccess(t *testing.T) {
	var gotAuth string
	var gotDoc []byte
	var gotMeta string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/analyze", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")

		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotMeta = r.FormValue("submission_id")
		file, _, err := r.FormFile("document")
		require.NoError(t, err)
		gotDoc, err = io.ReadAll(file)
		require.NoError(t, err)

		json.NewEncoder(w).Encode(analysis.Report{
			ID:     "rep-1",
			Status: "done",
			Result: json.RawMessage(`{"score":42}`),
		})
	}))
	defer srv.Close()

	client := analysis.NewHTTPClient(srv.URL, "secret", 5*time.Second)
	report, err := client.Analyze(context.Background(), analysis.Request{
		FileName:    "paper.pdf",
		ContentType: "application/pdf",
		Content:     []byte("pdf bytes"),
		Metadata:    map[string]string{"submission_id": "req1"},
	})
	require.NoError(t, err)

	assert.Equal(t, "rep-1", report.ID)
	assert.JSONEq(t, `{"score":42}`, string(report.Result))
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, []byte("pdf bytes"), gotDoc)
	assert.Equal(t, "req1", gotMeta)
}

func TestAnalyzeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unsupported format", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	client := analysis.NewHTTPClient(srv.URL, "", 5*time.Second)
	_, err := client.Analyze(context.Background(), analysis.Request{FileName: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, analysis.ErrRejected)
	assert.Contains(t, err.Error(), "unsupported format")
}

func TestAnalyzeUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // nothing listening anymore

	client := analysis.NewHTTPClient(srv.URL, "", time.Second)
	_, err := client.Analyze(context.Background(), analysis.Request{FileName: "x"})
	assert.ErrorIs(t, err, analysis.ErrUnreachable)
}

func TestReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/ready", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := analysis.NewHTTPClient(srv.URL, "", time.Second)
	assert.NoError(t, client.Ready(context.Background()))
}

func TestReadyUnhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := analysis.NewHTTPClient(srv.URL, "", time.Second)
	assert.ErrorIs(t, client.Ready(context.Background()), analysis.ErrUnreachable)
}
