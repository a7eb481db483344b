package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"

	"github.com/k-laboratory/rovlink/internal/bridge/command"
	"github.com/k-laboratory/rovlink/internal/bridge/link"
)

// statusResponse summarizes the bridge for operators and probes.
type statusResponse struct {
	Link          link.Status `json:"link"`
	StateVersion  uint64      `json:"state_version"`
	FramesDecoded uint64      `json:"frames_decoded"`
	FramesDropped uint64      `json:"frames_dropped"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	frames, dropped := s.backend.Frames()
	writeJSON(w, http.StatusOK, statusResponse{
		Link:          s.backend.Link.Status(),
		StateVersion:  s.backend.State.Version(),
		FramesDecoded: frames,
		FramesDropped: dropped,
	})
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.State.Current(time.Now()))
}

// submitRequest is the command submission envelope. Payload is decoded
// per-kind after the envelope is parsed.
type submitRequest struct {
	Kind    command.Kind    `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func (s *Server) handleSubmitCommand(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "command rate limit exceeded")
		return
	}

	var req submitRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}

	payload, err := command.ParsePayload(req.Kind, req.Payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.backend.Command.Submit(payload)
	if err != nil {
		if errors.Is(err, command.ErrInvalidCommand) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	rec, _ := s.backend.Command.Get(id)
	writeJSON(w, http.StatusAccepted, rec)
}

func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	req, ok := s.backend.Command.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown command id")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleListStreams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.Video.List(time.Now()))
}

// registerStreamRequest lets external producers announce a stream directly,
// in addition to streams learned from the vehicle.
type registerStreamRequest struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Live bool   `json:"live"`
}

func (s *Server) handleRegisterStream(w http.ResponseWriter, r *http.Request) {
	var req registerStreamRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "stream name is required")
		return
	}
	if _, err := url.ParseRequestURI(req.URL); err != nil {
		writeError(w, http.StatusBadRequest, "invalid stream url")
		return
	}

	s.backend.Video.Register(req.Name, req.URL, req.Live)
	writeJSON(w, http.StatusCreated, map[string]string{"name": req.Name})
}
