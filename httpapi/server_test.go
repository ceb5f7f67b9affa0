package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sselane/sselane/checkpoint"
	"github.com/sselane/sselane/dispatch"
	"github.com/sselane/sselane/outbox"
	"github.com/sselane/sselane/publish"
	"github.com/sselane/sselane/replay"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	store, err := outbox.NewSQLiteStore(outbox.SQLiteConfig{DSN: ":memory:"})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	checkpoints, err := checkpoint.NewSQLiteStore(checkpoint.SQLiteConfig{DSN: ":memory:"})
	if err != nil {
		t.Fatalf("checkpoint.NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { checkpoints.Close() })

	pub := publish.New(publish.Config{Sequence: store, Store: store})
	registry := dispatch.NewRegistry()
	replayer := replay.New(store, nil)

	return NewServer(Config{
		OutboxStore: store,
		Checkpoints: checkpoints,
		Publisher:   pub,
		Registry:    registry,
		Replayer:    replayer,
	})
}

func TestHandleBroadcastAndReplay(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/sse/broadcast", "application/json",
		strings.NewReader(`{"eventType":"message","data":{"text":"hi"}}`))
	if err != nil {
		t.Fatalf("POST broadcast: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("broadcast status = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/sse/connect?checkpoint=0", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	connResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET connect: %v", err)
	}
	defer connResp.Body.Close()

	scanner := bufio.NewScanner(connResp.Body)
	var sawConnectedComment, sawMessage bool
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, ": connected") {
			sawConnectedComment = true
		}
		if strings.HasPrefix(line, "event: connected") {
			t.Fatal("connected must not be emitted as a named SSE event")
		}
		if strings.HasPrefix(line, "event: message") {
			sawMessage = true
		}
		if strings.HasPrefix(line, "data:") && sawMessage {
			var payload map[string]any
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &payload); err == nil {
				if _, ok := payload["_sequence"]; !ok {
					t.Errorf("replayed frame missing _sequence field: %v", payload)
				}
			}
			break
		}
	}
	if !sawConnectedComment {
		t.Error("did not see connected comment line")
	}
	if !sawMessage {
		t.Error("did not see replayed message frame")
	}
}

func TestHandleNotificationValidation(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/sse/notification", "application/json",
		strings.NewReader(`{"message":"hi","severity":"not-a-severity"}`))
	if err != nil {
		t.Fatalf("POST notification: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	resp2, err := http.Post(ts.URL+"/api/sse/notification", "application/json",
		strings.NewReader(`{"message":"hi","severity":"info"}`))
	if err != nil {
		t.Fatalf("POST notification: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp2.StatusCode)
	}
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestHandleSendTargeted(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/sse/send/client-42", "application/json",
		strings.NewReader(`{"data":{"hello":"world"}}`))
	if err != nil {
		t.Fatalf("POST send: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var rec struct {
		Target string `json:"Target"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Target != "client-42" {
		t.Errorf("Target = %q, want client-42", rec.Target)
	}
}
