package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/YoshitsuguKoike/mdtxn/internal/application/port/output"
	"github.com/YoshitsuguKoike/mdtxn/internal/domain/distxn"
	"github.com/YoshitsuguKoike/mdtxn/internal/domain/model/update"
)

// DefaultHandleTTL bounds how long a handle may stay open without being stopped
const DefaultHandleTTL = 5 * time.Minute

var errUnknownHandle = errors.New("unknown handle")

// errAbandoned is the result recorded on handles aborted by the reaper
var errAbandoned = errors.New("handle abandoned by client")

// Server exposes local devices to remote coordinators.
type Server struct {
	devices map[distxn.DeviceID]output.Participant
	ttl     time.Duration

	mu      sync.Mutex
	handles map[string]*serverHandle
}

type serverHandle struct {
	dev     output.Participant
	h       *distxn.Handle
	created time.Time
	busy    bool
}

// NewServer creates a server for devices. A ttl of zero uses DefaultHandleTTL.
func NewServer(devices []output.Participant, ttl time.Duration) *Server {
	if ttl <= 0 {
		ttl = DefaultHandleTTL
	}
	s := &Server{
		devices: make(map[distxn.DeviceID]output.Participant, len(devices)),
		ttl:     ttl,
		handles: make(map[string]*serverHandle),
	}
	for _, d := range devices {
		s.devices[d.ID()] = d
	}
	return s
}

// Handler returns the HTTP handler of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/devices/{device}/handles", s.handleCreate)
	mux.HandleFunc("POST /v1/handles/{handle}/start", s.handleStart)
	mux.HandleFunc("POST /v1/handles/{handle}/write", s.handleWrite)
	mux.HandleFunc("POST /v1/handles/{handle}/stop", s.handleStop)
	mux.HandleFunc("GET /v1/devices/{device}/keys", s.handleKeys)
	mux.HandleFunc("GET /v1/devices/{device}/entries/{key...}", s.handleGet)
	return mux
}

// OpenHandles returns the number of handles not yet stopped
func (s *Server) OpenHandles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// Reap aborts handles older than the TTL and returns how many it stopped.
func (s *Server) Reap(ctx context.Context, now time.Time) int {
	return s.abort(ctx, func(sh *serverHandle) bool { return now.Sub(sh.created) > s.ttl })
}

// Close aborts every idle handle. Used on shutdown once no request is in flight.
func (s *Server) Close(ctx context.Context) int {
	return s.abort(ctx, func(*serverHandle) bool { return true })
}

func (s *Server) abort(ctx context.Context, expired func(*serverHandle) bool) int {
	s.mu.Lock()
	var victims []*serverHandle
	for token, sh := range s.handles {
		if !sh.busy && expired(sh) {
			victims = append(victims, sh)
			delete(s.handles, token)
		}
	}
	s.mu.Unlock()

	for _, sh := range victims {
		sh.h.Result = errAbandoned
		if err := sh.dev.StopLocal(ctx, sh.h); err != nil && !errors.Is(err, errAbandoned) {
			distxn.GetLogger().Warn("Abort of abandoned handle failed device=%s handle=%s error=%v",
				sh.dev.ID(), sh.h.ID(), err)
		}
	}
	if len(victims) > 0 {
		distxn.GetLogger().Warn("Aborted abandoned handles count=%d", len(victims))
	}
	return len(victims)
}

// RunReaper calls Reap every interval until ctx is done.
func (s *Server) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Reap(ctx, now)
		}
	}
}

func (s *Server) device(w http.ResponseWriter, r *http.Request) (output.Participant, bool) {
	id := distxn.DeviceID(r.PathValue("device"))
	dev, ok := s.devices[id]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown device %s", id))
	}
	return dev, ok
}

// acquire marks a handle busy so the reaper leaves it alone during a call
func (s *Server) acquire(w http.ResponseWriter, r *http.Request) (*serverHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.handles[r.PathValue("handle")]
	if !ok || sh.busy {
		writeError(w, http.StatusNotFound, errUnknownHandle)
		return nil, false
	}
	sh.busy = true
	return sh, true
}

func (s *Server) release(sh *serverHandle) {
	s.mu.Lock()
	sh.busy = false
	s.mu.Unlock()
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.device(w, r)
	if !ok {
		return
	}
	h, err := dev.CreateLocal(r.Context())
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}

	token := uuid.New().String()
	s.mu.Lock()
	s.handles[token] = &serverHandle{dev: dev, h: h, created: time.Now()}
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, createResponse{Handle: token, HandleID: h.ID().String()})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sh, ok := s.acquire(w, r)
	if !ok {
		return
	}
	defer s.release(sh)

	sh.h.Sync = req.Sync
	sh.h.LocalOnly = req.LocalOnly
	if err := sh.dev.StartLocal(r.Context(), sh.h); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	distxn.GetLogger().Debug("Remote handle started device=%s handle=%s top=%s", sh.dev.ID(), sh.h.ID(), req.TopTxnID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sh, ok := s.acquire(w, r)
	if !ok {
		return
	}
	defer s.release(sh)

	if err := sh.dev.Write(r.Context(), sh.h, req.Op); err != nil {
		status := http.StatusConflict
		if errors.Is(err, update.ErrInvalidKey) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStop disposes the handle whatever the outcome, like StopLocal itself.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// the handle still has to go
		req = stopRequest{Error: "malformed stop request: " + err.Error()}
	}

	token := r.PathValue("handle")
	s.mu.Lock()
	sh, ok := s.handles[token]
	if ok && !sh.busy {
		delete(s.handles, token)
	}
	s.mu.Unlock()
	if !ok || sh.busy {
		writeError(w, http.StatusNotFound, errUnknownHandle)
		return
	}

	sh.h.Sync = req.Sync
	if req.Error != "" {
		sh.h.Result = &Error{Status: http.StatusConflict, Message: req.Error, code: req.Code}
	}
	if err := sh.dev.StopLocal(r.Context(), sh.h); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.device(w, r)
	if !ok {
		return
	}
	key := r.PathValue("key")
	value, err := dev.Get(r.Context(), key)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, output.ErrEntryNotFound):
			status = http.StatusNotFound
		case errors.Is(err, update.ErrInvalidKey):
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, entryResponse{Key: key, Value: value})
}

func (s *Server) handleKeys(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.device(w, r)
	if !ok {
		return
	}
	keys, err := dev.Keys(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, keysResponse{Keys: keys})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		distxn.GetLogger().Warn("Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: distxn.Code(err)})
}
