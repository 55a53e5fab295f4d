package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kevinxiao27/listsync/crdt"
	"github.com/kevinxiao27/listsync/internal/replica"
	"github.com/kevinxiao27/listsync/internal/store"
	"github.com/kevinxiao27/listsync/internal/types"
	"github.com/kevinxiao27/listsync/util"
)

type Server struct {
	replica  *replica.Replica
	logger   *zap.Logger
	upgrader websocket.Upgrader

	// ctx scopes websocket sessions, which outlive http.Server.Shutdown
	ctx  context.Context
	stop context.CancelFunc

	mu       sync.Mutex
	closed   bool
	sessions sync.WaitGroup
}

type WSMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type CreateListRequest struct {
	Title string     `json:"title"`
	Kind  types.Kind `json:"kind"`
}

type ListResponse struct {
	Record types.ListRecord `json:"record"`
	Items  []types.Item     `json:"items"`
}

type OpResponse struct {
	Outcome string       `json:"outcome"`
	Items   []types.Item `json:"items"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func NewServer(r *replica.Replica, logger *zap.Logger) *Server {
	ctx, stop := context.WithCancel(context.Background())
	return &Server{
		replica: r,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		ctx:  ctx,
		stop: stop,
	}
}

// Close ends every websocket session and waits for their handlers to
// return. New sessions are refused afterwards.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.stop()
	s.sessions.Wait()
}

func (s *Server) startSession() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sessions.Add(1)
	return true
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/lists", s.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/lists", s.handleLists).Methods(http.MethodGet)
	r.HandleFunc("/lists/{id}", s.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/lists/{id}/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/lists/{id}/ops", s.handleOp).Methods(http.MethodPost)
	r.HandleFunc("/lists/{id}/merge", s.handleMerge).Methods(http.MethodPost)
	r.HandleFunc("/lists/{id}/ws", s.handleWebSocket)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateListRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	req.Kind = util.Choose(req.Kind == "", types.Items, req.Kind)
	if !req.Kind.Valid() {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("unknown list kind %q", req.Kind))
		return
	}

	rec, err := s.replica.CreateList(r.Context(), req.Title, req.Kind)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, ListResponse{Record: rec, Items: []types.Item{}})
}

func (s *Server) handleLists(w http.ResponseWriter, r *http.Request) {
	recs, err := s.replica.Lists(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	if recs == nil {
		recs = []types.ListRecord{}
	}
	s.writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := s.listID(w, r)
	if !ok {
		return
	}
	rec, err := s.replica.List(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	items, err := s.replica.Items(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ListResponse{Record: rec, Items: items})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	id, ok := s.listID(w, r)
	if !ok {
		return
	}
	env, err := s.replica.Snapshot(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, env)
}

func (s *Server) handleOp(w http.ResponseWriter, r *http.Request) {
	id, ok := s.listID(w, r)
	if !ok {
		return
	}
	var op types.Op
	if err := json.NewDecoder(r.Body).Decode(&op); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	outcome, items, err := s.replica.Apply(r.Context(), id, op)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, OpResponse{Outcome: outcome.String(), Items: items})
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	id, ok := s.listID(w, r)
	if !ok {
		return
	}
	var env types.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if env.Record.ID != id {
		s.writeError(w, http.StatusBadRequest, errors.New("snapshot belongs to another list"))
		return
	}

	rec, items, err := s.replica.Merge(r.Context(), env)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ListResponse{Record: rec, Items: items})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id, ok := s.listID(w, r)
	if !ok {
		return
	}
	if !s.startSession() {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("server shutting down"))
		return
	}
	defer s.sessions.Done()

	env, err := s.replica.Snapshot(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	updates, cancel := s.replica.Watch(id)
	defer cancel()

	logger := s.logger.With(zap.Stringer("list", id))
	logger.Debug("client connected")

	initData, _ := json.Marshal(env)
	if err := conn.WriteJSON(WSMessage{Type: "init", Data: initData}); err != nil {
		return
	}

	// gorilla connections allow one writer, so replies go through the loop below
	replies := make(chan WSMessage)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg WSMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			reply := s.handleMessage(s.ctx, id, msg)
			select {
			case replies <- reply:
			case <-stop:
				return
			}
		}
	}()
	defer func() {
		close(stop)
		conn.Close()
		<-done
	}()

	for {
		var msg WSMessage
		select {
		case <-done:
			logger.Debug("client disconnected")
			return
		case <-s.ctx.Done():
			closing := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			_ = conn.WriteControl(websocket.CloseMessage, closing, time.Now().Add(time.Second))
			return
		case reply := <-replies:
			msg = reply
		case snap, ok := <-updates:
			if !ok {
				return
			}
			msg = WSMessage{Type: "snapshot", Data: snap}
		}
		if err := conn.WriteJSON(msg); err != nil {
			logger.Debug("websocket write failed", zap.Error(err))
			return
		}
	}
}

func (s *Server) handleMessage(ctx context.Context, id uuid.UUID, msg WSMessage) WSMessage {
	switch msg.Type {
	case "op":
		var op types.Op
		if err := json.Unmarshal(msg.Data, &op); err != nil {
			return errorMessage(err)
		}
		outcome, items, err := s.replica.Apply(ctx, id, op)
		if err != nil {
			return errorMessage(err)
		}
		data, _ := json.Marshal(OpResponse{Outcome: outcome.String(), Items: items})
		return WSMessage{Type: "outcome", Data: data}
	case "merge":
		var env types.Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			return errorMessage(err)
		}
		if env.Record.ID != id {
			return errorMessage(errors.New("snapshot belongs to another list"))
		}
		rec, items, err := s.replica.Merge(ctx, env)
		if err != nil {
			return errorMessage(err)
		}
		data, _ := json.Marshal(ListResponse{Record: rec, Items: items})
		return WSMessage{Type: "merged", Data: data}
	}
	return errorMessage(errors.New("unknown message type " + msg.Type))
}

func errorMessage(err error) WSMessage {
	data, _ := json.Marshal(ErrorResponse{Error: err.Error()})
	return WSMessage{Type: "error", Data: data}
}

func (s *Server) listID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return uuid.Nil, false
	}
	return id, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict), errors.Is(err, replica.ErrKindMismatch):
		return http.StatusConflict
	case errors.Is(err, crdt.ErrMalformedSnapshot),
		errors.Is(err, types.ErrInvalidOp),
		errors.Is(err, replica.ErrUnknownOp):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	s.writeError(w, status, err)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("write response", zap.Error(err))
	}
}
