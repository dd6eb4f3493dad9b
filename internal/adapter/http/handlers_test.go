package http_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/hookrelay/internal/adapter/filestore"
	hrhttp "github.com/Strob0t/hookrelay/internal/adapter/http"
	"github.com/Strob0t/hookrelay/internal/adapter/ws"
	"github.com/Strob0t/hookrelay/internal/config"
	"github.com/Strob0t/hookrelay/internal/domain/hookevent"
	"github.com/Strob0t/hookrelay/internal/domain/timeline"
	"github.com/Strob0t/hookrelay/internal/outbound"
	"github.com/Strob0t/hookrelay/internal/service"
)

type testEnv struct {
	ingest     *httptest.Server
	observer   *httptest.Server
	aggregator *service.Aggregator
	pool       *outbound.Pool
	hub        *ws.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Defaults()

	norm, err := service.NewNormalizer(cfg.Correlator.DelegationTools, 16)
	if err != nil {
		t.Fatal(err)
	}
	store := filestore.New(t.TempDir())
	agg := service.NewAggregator(cfg.Aggregator, store, nil)
	hub := ws.NewHub(cfg.Server.ReplayBuffer, nil)
	pool := outbound.New(outbound.Options{BatchWindow: 5 * time.Millisecond}, nil, hub)
	relay := service.NewRelay(norm, service.NewCorrelator(cfg.Correlator), agg, pool, nil)

	h := &hrhttp.Handlers{Relay: relay, Sessions: store, Observers: hub, MaxBodyBytes: 1024}
	env := &testEnv{
		ingest:     httptest.NewServer(hrhttp.IngestRouter(h)),
		observer:   httptest.NewServer(hrhttp.ObserverRouter(h, "")),
		aggregator: agg,
		pool:       pool,
		hub:        hub,
	}
	t.Cleanup(func() {
		env.ingest.Close()
		_ = pool.Close(context.Background())
		_ = hub.Close()
		env.observer.Close()
	})
	return env
}

func (e *testEnv) post(t *testing.T, body string) hrhttp.HookResponse {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.ingest.URL+"/api/v1/events", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set(hrhttp.HeaderProcessContext, "4242")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ingest status = %d, want 200", resp.StatusCode)
	}
	var out hrhttp.HookResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestIngestAlwaysContinues(t *testing.T) {
	env := newTestEnv(t)
	bodies := []string{
		`{"hook_event_name":"UserPromptSubmit","session_id":"s1","prompt":"hi"}`,
		`{broken`,
		`[]`,
		`{"hook_event_name":"Teleport","session_id":"s1"}`,
		`{"hook_event_name":"Notification","message":"` + strings.Repeat("x", 2048) + `"}`,
	}
	for _, b := range bodies {
		if resp := env.post(t, b); !resp.Continue {
			t.Fatalf("expected continue for %.20q", b)
		}
	}
	if got := env.aggregator.Stats().Active; got == 0 {
		t.Fatal("expected ingested events to open timelines")
	}
}

func TestSessionDocumentServedAfterStop(t *testing.T) {
	env := newTestEnv(t)
	env.post(t, `{"hook_event_name":"UserPromptSubmit","session_id":"s1"}`)
	env.post(t, `{"hook_event_name":"Stop","session_id":"s1"}`)
	if err := env.aggregator.FlushAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(env.observer.URL + "/api/v1/sessions/s1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var doc timeline.Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatal(err)
	}
	if doc.SessionID != "s1" || len(doc.Events) != 2 || doc.EndReason != timeline.EndStop {
		t.Fatalf("unexpected document %+v", doc)
	}

	missing, err := http.Get(env.observer.URL + "/api/v1/sessions/nope")
	if err != nil {
		t.Fatal(err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("missing session status = %d, want 404", missing.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.observer.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var h struct {
		Status string `json:"status"`
		Pool   struct {
			CircuitState map[string]string `json:"circuit_state"`
		} `json:"pool"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		t.Fatal(err)
	}
	if h.Status != "ok" || h.Pool.CircuitState["observers"] != "closed" {
		t.Fatalf("unexpected health %+v", h)
	}
}

func TestObserverReceivesIngestedEvents(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(env.observer.URL, "http") + "/ws"
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = c.CloseNow() }()
	for env.hub.ConnectionCount() == 0 {
		if ctx.Err() != nil {
			t.Fatal("observer never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	env.post(t, `{"hook_event_name":"SessionStart","session_id":"live","source":"startup"}`)

	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg ws.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != ws.MessageEvents || len(msg.Events) != 1 {
		t.Fatalf("unexpected message %+v", msg)
	}
	if ev := msg.Events[0]; ev.Kind != hookevent.KindSessionStart || ev.SessionID != "live" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestGetSessionRejectsOversizedID(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.observer.URL + "/api/v1/sessions/" + strings.Repeat("a", 300))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
