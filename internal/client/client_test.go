package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/whistle/whistle-server/internal/events"
	"github.com/whistle/whistle-server/internal/models"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", 5*time.Second, zap.NewNop().Sugar())
}

func TestSubmitAndStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/reports", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Empty(t, r.Header.Get("Authorization"))
		var req models.CreateReportRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "broken lock on gate 3", req.Message)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(models.CreateReportResponse{ID: "r-1", Message: "Report submitted successfully"})
	})
	mux.HandleFunc("/api/v1/reports/r-1/status", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.ReportStatusResponse{ID: "r-1", Status: models.StatusPending})
	})
	c := newTestClient(t, mux)

	created, err := c.Submit(context.Background(), &models.CreateReportRequest{
		Message:  "broken lock on gate 3",
		Category: models.CategorySafety,
	})
	require.NoError(t, err)
	assert.Equal(t, "r-1", created.ID)

	status, err := c.Status(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, status.Status)
}

func TestAdminCallsSendBearerToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/admin/login", func(w http.ResponseWriter, r *http.Request) {
		var req models.AdminAuthRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(models.AdminAuthResponse{Error: "Invalid username or password"})
			return
		}
		json.NewEncoder(w).Encode(models.AdminAuthResponse{Success: true, Token: "tok"})
	})
	mux.HandleFunc("/api/v1/reports", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "resolved", r.URL.Query().Get("status"))
		json.NewEncoder(w).Encode(models.GetReportsResponse{Reports: []models.Report{{ID: "r-1"}}, Total: 1})
	})
	c := newTestClient(t, mux)

	_, err := c.Login(context.Background(), "admin", "wrong")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Invalid username or password", apiErr.Message)
	assert.ErrorIs(t, err, ErrUnauthorized)

	token, err := c.Login(context.Background(), "admin", "secret")
	require.NoError(t, err)

	list, err := c.Reports(context.Background(), token, models.StatusResolved)
	require.NoError(t, err)
	assert.Equal(t, 1, list.Total)
}

// sseServer writes frames, then holds the stream open until the client leaves.
func sseServer(t *testing.T, frames ...string) *Client {
	t.Helper()
	return newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "a b" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":"Unauthorized"}`)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, f := range frames {
			fmt.Fprint(w, f)
		}
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
}

func TestStreamParsesEvents(t *testing.T) {
	c := sseServer(t,
		": comment\n\n",
		"data: {\"type\":\"connected\",\"message\":\"Notifications active\"}\n\n",
		"event: message\nid: 7\ndata: not json\n\n",
		"data: {\"type\":\"new_report\",\n",
		"data: \"reportId\":\"r-1\",\"category\":\"safety\",\"severity\":\"low\"}\n\n",
	)

	stream, err := c.Subscribe(context.Background(), "a b")
	require.NoError(t, err)
	defer stream.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ev, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, events.Connected{Message: "Notifications active"}, ev)

	ev, err = stream.Next(ctx)
	require.NoError(t, err)
	report, ok := ev.(events.NewReport)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, "r-1", report.ReportID)
}

func TestStreamRejected(t *testing.T) {
	c := sseServer(t)

	_, err := c.Subscribe(context.Background(), "wrong")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestStreamEndsWhenServerCloses(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"heartbeat\",\"timestamp\":\"2026-01-02T03:04:05Z\"}\n\n")
	}))

	stream, err := c.Subscribe(context.Background(), "tok")
	require.NoError(t, err)
	defer stream.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ev, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.IsType(t, events.Heartbeat{}, ev)

	_, err = stream.Next(ctx)
	assert.True(t, errors.Is(err, ErrStreamEnded), "got %v", err)
}

func TestStreamCloseUnblocksNext(t *testing.T) {
	c := sseServer(t)

	stream, err := c.Subscribe(context.Background(), "a b")
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		_, err := stream.Next(context.Background())
		errs <- err
	}()

	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrStreamClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after Close")
	}
}
