// Package httpapi implements the HTTP surface described in spec.md §6: the
// SSE connect endpoint and the broadcast/send/typed-publish endpoints,
// wired on top of the outbox, checkpoint, publish, dispatch, stream, and
// replay packages. Route shape and middleware follow the teacher's
// server/server.go (now folded into this package, since the teacher's
// workflow-engine routes have no place in this domain).
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/sselane/sselane/checkpoint"
	"github.com/sselane/sselane/dispatch"
	"github.com/sselane/sselane/event"
	"github.com/sselane/sselane/outbox"
	"github.com/sselane/sselane/publish"
	"github.com/sselane/sselane/replay"
	"github.com/sselane/sselane/stream"
	"github.com/sselane/sselane/telemetry"
)

// Server holds every dependency an HTTP handler needs. It has no mutable
// state of its own; all mutable state lives in the outbox, checkpoint, and
// registry it wraps.
type Server struct {
	outboxStore outbox.Store
	checkpoints checkpoint.Store
	publisher   *publish.Publisher
	registry    *dispatch.Registry
	replayer    *replay.Coordinator
	logger      *slog.Logger
	instr       *telemetry.Instrumentation
	corsOrigin  string
}

// Config configures a Server.
type Config struct {
	OutboxStore     outbox.Store
	Checkpoints     checkpoint.Store
	Publisher       *publish.Publisher
	Registry        *dispatch.Registry
	Replayer        *replay.Coordinator
	Logger          *slog.Logger
	Instrumentation *telemetry.Instrumentation
	CORSOrigin      string
}

// NewServer builds a Server from its dependencies.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	origin := cfg.CORSOrigin
	if origin == "" {
		origin = "*"
	}
	return &Server{
		outboxStore: cfg.OutboxStore,
		checkpoints: cfg.Checkpoints,
		publisher:   cfg.Publisher,
		registry:    cfg.Registry,
		replayer:    cfg.Replayer,
		logger:      logger,
		instr:       cfg.Instrumentation,
		corsOrigin:  origin,
	}
}

// Routes builds the service's http.Handler, matching spec.md §6's HTTP
// surface table.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/sse/connect", s.handleConnect)
	mux.HandleFunc("POST /api/sse/broadcast", s.handleBroadcast)
	mux.HandleFunc("POST /api/sse/send/{clientId}", s.handleSend)
	mux.HandleFunc("POST /api/sse/notification", s.handleNotification(""))
	mux.HandleFunc("POST /api/sse/notification/{clientId}", s.handleNotificationTargeted)
	mux.HandleFunc("POST /api/sse/alert", s.handleAlert(""))
	mux.HandleFunc("POST /api/sse/alert/{clientId}", s.handleAlertTargeted)
	mux.HandleFunc("POST /api/sse/data-update", s.handleDataUpdate(""))
	mux.HandleFunc("POST /api/sse/data-update/{clientId}", s.handleDataUpdateTargeted)
	mux.HandleFunc("GET /health", s.handleHealth)

	return maxBodyMiddleware(corsMiddleware(s.corsOrigin, mux))
}

// handleConnect opens an SSE stream for one client (spec.md §6, §4.5, §4.6).
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		clientID = uuid.New().String()
	}
	filter := dispatch.ParseFilter(r.URL.Query().Get("filter"))

	checkpointSeq, hasCheckpoint, err := s.resolveCheckpoint(ctx, clientID, r)
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "checkpoint_lookup_failed", "could not resolve checkpoint", err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writer, err := newSSEWriter(w)
	if err != nil {
		s.logger.Error("sse connect failed: no flusher", "client_id", clientID)
		return
	}
	if err := writer.writeConnected(clientID); err != nil {
		s.logger.Warn("failed writing connected frame", "client_id", clientID, "error", err)
		return
	}

	engine := stream.New(clientID, s.checkpoints, s.logger, s.instr)
	cancel := s.registry.Register(clientID, filter, engine)
	defer cancel()

	if hasCheckpoint {
		s.replayer.Replay(ctx, clientID, checkpointSeq, engine)
	}

	engine.Yield(ctx, writer)
}

// resolveCheckpoint determines the replay starting point for a connecting
// client: an explicit checkpoint query param wins; otherwise the client's
// last persisted checkpoint is used; otherwise it reports false and no
// replay happens (spec.md §6 names checkpoint and lastEventId as
// alternative resume hints; lastEventId has no seq index to resolve against
// here, so it is accepted but only checkpoint/persisted-state drive replay
// -- see DESIGN.md).
func (s *Server) resolveCheckpoint(ctx context.Context, clientID string, r *http.Request) (int64, bool, error) {
	if raw := r.URL.Query().Get("checkpoint"); raw != "" {
		seq, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, true, nil
		}
		return seq, true, nil
	}

	cp, ok, err := s.checkpoints.Get(ctx, clientID)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, nil
	}
	return cp.LastSeq, true, nil
}

// handleBroadcast publishes a caller-supplied event to every matching
// client (spec.md §6).
func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	s.publishGeneric(w, r, "")
}

// handleSend publishes a caller-supplied event targeted at one client.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	s.publishGeneric(w, r, r.PathValue("clientId"))
}

type genericBody struct {
	EventType string          `json:"eventType"`
	Data      json.RawMessage `json:"data"`
}

func (s *Server) publishGeneric(w http.ResponseWriter, r *http.Request, target string) {
	var body genericBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid_body", "could not parse request body", err)
		return
	}
	if body.EventType == "" {
		body.EventType = string(event.KindMessage)
	}
	if len(body.Data) == 0 {
		writeError(s.logger, w, http.StatusBadRequest, "missing_data", "data is required", nil)
		return
	}

	rec, err := s.publisher.Publish(r.Context(), event.Kind(body.EventType), body.Data, target)
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "publish_failed", "event could not be durably published", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleNotification(target string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.publishTyped(w, r, target, func() ([]byte, error) {
			var p publish.NotificationPayload
			if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
				return nil, err
			}
			return publish.BuildNotification(p, time.Now())
		}, event.KindNotification)
	}
}

func (s *Server) handleNotificationTargeted(w http.ResponseWriter, r *http.Request) {
	s.handleNotification(r.PathValue("clientId"))(w, r)
}

func (s *Server) handleAlert(target string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.publishTyped(w, r, target, func() ([]byte, error) {
			var p publish.AlertPayload
			if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
				return nil, err
			}
			return publish.BuildAlert(p, time.Now())
		}, event.KindAlert)
	}
}

func (s *Server) handleAlertTargeted(w http.ResponseWriter, r *http.Request) {
	s.handleAlert(r.PathValue("clientId"))(w, r)
}

func (s *Server) handleDataUpdate(target string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.publishTyped(w, r, target, func() ([]byte, error) {
			var p publish.DataUpdatePayload
			if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
				return nil, err
			}
			return publish.BuildDataUpdate(p, time.Now())
		}, event.KindDataUpdate)
	}
}

func (s *Server) handleDataUpdateTargeted(w http.ResponseWriter, r *http.Request) {
	s.handleDataUpdate(r.PathValue("clientId"))(w, r)
}

// publishTyped validates and builds a typed payload via build, then
// publishes it. Validation errors (bad JSON, missing required fields,
// invalid enum values) surface as 400s; publish failures as 500s, matching
// the error taxonomy in spec.md §7.
func (s *Server) publishTyped(w http.ResponseWriter, r *http.Request, target string, build func() ([]byte, error), kind event.Kind) {
	data, err := build()
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid_payload", "payload failed validation", err)
		return
	}

	rec, err := s.publisher.Publish(r.Context(), kind, data, target)
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "publish_failed", "event could not be durably published", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleHealth reports store reachability, mirroring the teacher's
// server/handlers.go handleHealth.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := "ok"
	code := http.StatusOK

	if _, err := s.outboxStore.Latest(ctx); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
		s.logger.Error("health check: outbox store unreachable", "error", err)
	}

	writeJSON(w, code, map[string]string{"status": status})
}
