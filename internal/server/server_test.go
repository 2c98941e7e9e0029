package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/dynamo/internal/database"
	"github.com/aristath/dynamo/internal/events"
	"github.com/aristath/dynamo/internal/scheduler"
	testingpkg "github.com/aristath/dynamo/internal/testing"
)

type stubJobs struct {
	triggered []string
	err       error
}

func (s *stubJobs) Jobs() []scheduler.JobInfo {
	return []scheduler.JobInfo{{Name: "auto_rebalance", Schedule: "@hourly"}}
}

func (s *stubJobs) Trigger(name string) error {
	s.triggered = append(s.triggered, name)
	return s.err
}

type pingModule struct{}

func (pingModule) RegisterRoutes(r chi.Router) {
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("pong"))
	})
}

func newTestServer(t *testing.T, jobs JobRunner) (*Server, *events.Bus) {
	t.Helper()
	ledgerDB, _ := testingpkg.NewTestDB(t, "ledger")
	bus := events.NewBus(zerolog.Nop())

	s := New(Config{
		Log:       zerolog.Nop(),
		Port:      0,
		DevMode:   true,
		EventBus:  bus,
		Databases: map[string]*database.DB{"ledger": ledgerDB},
		Jobs:      jobs,
		Modules:   []RouteRegistrar{pingModule{}},
	})
	s.systemHandlers.sample = func() (float64, float64) { return 12.5, 40 }
	return s, bus
}

func TestServer_Health(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "dynamo", body["service"])
}

func TestServer_ModuleRoutesMountedUnderAPI(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ping", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())
}

func TestSystemHandlers_Status(t *testing.T) {
	s, _ := newTestServer(t, &stubJobs{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/system/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status SystemStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status.Status)
	assert.InDelta(t, 12.5, status.CPUPercent, 1e-9)
	assert.InDelta(t, 40.0, status.MemoryPercent, 1e-9)
	require.Len(t, status.Databases, 1)
	assert.Equal(t, "ledger", status.Databases[0].Name)
	assert.True(t, status.Databases[0].Healthy)
	require.Len(t, status.Jobs, 1)
	assert.Equal(t, "auto_rebalance", status.Jobs[0].Name)
}

func TestSystemHandlers_StatusDegradedOnClosedDatabase(t *testing.T) {
	s, _ := newTestServer(t, nil)
	for _, db := range s.systemHandlers.databases {
		require.NoError(t, db.Close())
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/system/status", nil))

	var status SystemStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "degraded", status.Status)
	assert.False(t, status.Databases[0].Healthy)
}

func TestSystemHandlers_TriggerJob(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"success", nil, http.StatusOK},
		{"unknown", fmt.Errorf("%w: nope", scheduler.ErrUnknownJob), http.StatusNotFound},
		{"failure", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := &stubJobs{err: tt.err}
			s, _ := newTestServer(t, jobs)

			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/system/jobs/r2_backup/run", nil))

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, []string{"r2_backup"}, jobs.triggered)
		})
	}
}

func TestSystemHandlers_TriggerWithoutScheduler(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/system/jobs/anything/run", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventsStream_WebSocket(t *testing.T) {
	s, bus := newTestServer(t, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events/ws?types=PLAN_EXECUTED"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var msg streamMessage
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, "connected", msg.Type)

	// filtered out
	bus.Publish(&events.Event{Type: events.PlanFailed, Timestamp: time.Now(), Module: "rebalancing"})
	bus.Publish(&events.Event{
		Type:      events.PlanExecuted,
		Timestamp: time.Now(),
		Module:    "rebalancing",
		Data:      map[string]interface{}{"plan_id": "p1"},
	})

	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, string(events.PlanExecuted), msg.Type)
	assert.Equal(t, "p1", msg.Data["plan_id"])
}

func TestEventsStream_SSE(t *testing.T) {
	s, bus := newTestServer(t, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	next := func() streamMessage {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if payload, ok := strings.CutPrefix(strings.TrimSpace(line), "data: "); ok {
				var msg streamMessage
				require.NoError(t, json.Unmarshal([]byte(payload), &msg))
				return msg
			}
		}
	}

	assert.Equal(t, "connected", next().Type)

	bus.Publish(&events.Event{Type: events.DepositProcessed, Timestamp: time.Now(), Module: "ledger"})
	msg := next()
	assert.Equal(t, string(events.DepositProcessed), msg.Type)
	assert.Equal(t, "ledger", msg.Module)
}
