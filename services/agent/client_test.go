package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"octopus-controlplane/pkg/api"

	"github.com/stretchr/testify/require"
)

func TestClient_RoundTrips(t *testing.T) {
	var reports atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/clients/c1/tasks", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "c1", r.Header.Get(api.HeaderClientID))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(api.AssignedTasksResponse{
			ClientID: "c1",
			Tasks:    []api.AssignedTask{{ID: "t1", Plugin: "uptime"}},
		})
	})
	mux.HandleFunc("POST /api/v1/tasks/t1/claim", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(api.ClaimResponse{TaskID: "t1", ClientID: "c1", Granted: true})
	})
	mux.HandleFunc("POST /api/v1/tasks/t2/claim", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	mux.HandleFunc("POST /api/v1/executions", func(w http.ResponseWriter, r *http.Request) {
		if reports.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("GET /api/v1/plugins/uptime", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(api.HeaderContentHash, api.ContentHash([]byte("bytes")))
		_, _ = w.Write([]byte("bytes"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL, "c1", 5*time.Second)
	ctx := context.Background()

	tasks, err := c.AssignedTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	granted, err := c.Claim(ctx, "t1")
	require.NoError(t, err)
	require.True(t, granted)

	granted, err = c.Claim(ctx, "t2")
	require.NoError(t, err)
	require.False(t, granted)

	require.NoError(t, c.Report(ctx, api.ReportRequest{TaskID: "t1", ClientID: "c1", Status: "completed"}))
	require.EqualValues(t, 2, reports.Load())

	data, hash, err := c.FetchPlugin(ctx, "uptime")
	require.NoError(t, err)
	require.Equal(t, "bytes", string(data))
	require.Equal(t, api.ContentHash(data), hash)
}

func TestClient_ReportDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "c1", time.Second)
	err := c.Report(context.Background(), api.ReportRequest{TaskID: "gone", ClientID: "c1", Status: "completed"})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	require.EqualValues(t, 1, calls.Load())
}

func TestClient_DecodesWithoutJSONContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(`{"client_id":"c1","tasks":[{"id":"t1","plugin":"uptime","cycle":3}]}`))
	}))
	defer srv.Close()

	tasks, err := NewClient(srv.URL, "c1", time.Second).AssignedTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, 3, tasks[0].Cycle)
}

func TestClient_UndecodableBodyIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`<html>proxy error</html>`))
	}))
	defer srv.Close()

	tasks, err := NewClient(srv.URL, "c1", time.Second).AssignedTasks(context.Background())
	require.Error(t, err)
	require.Nil(t, tasks)
}
