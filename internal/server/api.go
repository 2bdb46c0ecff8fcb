package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/quantumportal/quantumportal/internal/contact"
	"github.com/quantumportal/quantumportal/internal/logging"
	"github.com/quantumportal/quantumportal/internal/quantum"
	"github.com/quantumportal/quantumportal/internal/session"
)

const (
	maxBodySize         = 64 << 10
	defaultMessageLimit = 50
	maxMessageLimit     = 500
)

// registerAPI adds the JSON API. Every route acts on the caller's session.
func (s *Server) registerAPI(r *mux.Router) {
	r.HandleFunc("/state", s.sessionOp(func(ctx context.Context, sess *session.Session) (session.Snapshot, error) {
		return sess.Snapshot(ctx)
	})).Methods(http.MethodGet)
	r.HandleFunc("/actions", s.handleActions).Methods(http.MethodPost)

	r.HandleFunc("/qubit/measure", s.envelopeOp(ActionMeasureQubit)).Methods(http.MethodPost)
	r.HandleFunc("/box/open", s.envelopeOp(ActionOpenBox)).Methods(http.MethodPost)
	r.HandleFunc("/box/stats", s.handleBoxStats).Methods(http.MethodGet)
	r.HandleFunc("/wave/collapse", s.envelopeOp(quantum.ActionCollapseWave)).Methods(http.MethodPost)
	r.HandleFunc("/register/toggle", s.envelopeOp(ActionToggleQubit)).Methods(http.MethodPost)
	r.HandleFunc("/register/compute", s.envelopeOp(ActionCompute)).Methods(http.MethodPost)
	r.HandleFunc("/register/gate", s.envelopeOp(ActionApplyGate)).Methods(http.MethodPost)
	r.HandleFunc("/uncertainty", s.envelopeOp(ActionSetPositionCertainty)).Methods(http.MethodPost)

	r.HandleFunc("/contact", s.handleContact).Methods(http.MethodPost)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(AuthMiddleware(s.cfg.Admin))
	admin.HandleFunc("/messages", s.handleMessages).Methods(http.MethodGet)
}

// writeOpError maps session and action errors to HTTP statuses.
func writeOpError(w http.ResponseWriter, log *zap.Logger, err error) {
	switch {
	case isClientError(err):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrLimit), errors.Is(err, session.ErrClosed):
		writeJSONError(w, http.StatusServiceUnavailable, "session unavailable, try again later")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeJSONError(w, http.StatusServiceUnavailable, "request canceled")
	default:
		log.Error("request failed", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// readBody reads a bounded request body. An empty body yields nil.
func readBody(w http.ResponseWriter, r *http.Request) (json.RawMessage, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		}
		return nil, false
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, true
	}
	if !json.Valid(data) {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON")
		return nil, false
	}
	return data, true
}

type sessionFunc func(ctx context.Context, sess *session.Session) (session.Snapshot, error)

// sessionOp runs fn on the caller's session and answers with the snapshot.
func (s *Server) sessionOp(fn sessionFunc) http.HandlerFunc {
	log := logging.Named(s.log, logging.API)
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.session(w, r)
		if err != nil {
			writeOpError(w, log, err)
			return
		}
		snap, err := fn(r.Context(), sess)
		if err != nil {
			writeOpError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

// envelopeOp applies action with the request body as its payload.
func (s *Server) envelopeOp(action string) http.HandlerFunc {
	log := logging.Named(s.log, logging.API)
	return func(w http.ResponseWriter, r *http.Request) {
		data, ok := readBody(w, r)
		if !ok {
			return
		}
		s.sessionOp(func(ctx context.Context, sess *session.Session) (session.Snapshot, error) {
			snap, err := applyEnvelope(ctx, sess, MessageEnvelope{Action: action, Data: data})
			if err != nil && !isClientError(err) {
				log.Debug("action failed", zap.String("action", action), zap.Error(err))
			}
			return snap, err
		})(w, r)
	}
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	data, ok := readBody(w, r)
	if !ok {
		return
	}
	var env MessageEnvelope
	if len(data) == 0 || json.Unmarshal(data, &env) != nil || env.Action == "" {
		writeJSONError(w, http.StatusBadRequest, `expected {"action": "...", "data": ...}`)
		return
	}
	s.sessionOp(func(ctx context.Context, sess *session.Session) (session.Snapshot, error) {
		return applyEnvelope(ctx, sess, env)
	})(w, r)
}

func (s *Server) handleBoxStats(w http.ResponseWriter, r *http.Request) {
	log := logging.Named(s.log, logging.API)
	sess, err := s.session(w, r)
	if err != nil {
		writeOpError(w, log, err)
		return
	}
	snap, err := sess.Snapshot(r.Context())
	if err != nil {
		writeOpError(w, log, err)
		return
	}
	writeJSON(w, http.StatusOK, snap.Box.Stats)
}

// contactRequest is the contact form body. Language defaults to the
// session's language.
type contactRequest struct {
	contact.Form
	Language string `json:"language,omitempty"`
}

func (s *Server) handleContact(w http.ResponseWriter, r *http.Request) {
	log := logging.Named(s.log, logging.Contact)
	if s.contact == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "contact form is not available")
		return
	}

	data, ok := readBody(w, r)
	if !ok {
		return
	}
	var req contactRequest
	if len(data) == 0 || json.Unmarshal(data, &req) != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid contact form")
		return
	}

	lang := quantum.Language(req.Language)
	if !lang.Valid() {
		lang = s.sessionLanguage(w, r)
	}
	catalog := s.content.Catalog()

	sub, err := s.contact.Submit(r.Context(), req.Form, lang)
	var verr *contact.ValidationError
	switch {
	case errors.As(err, &verr):
		fields := make(map[string]string, len(verr.Fields))
		for field := range verr.Fields {
			fields[field] = catalog.T(lang, "contact.error."+field)
		}
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  verr.Error(),
			"fields": fields,
		})
	case err != nil:
		log.Error("contact submission failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": catalog.T(lang, "contact.errorMessage"),
		})
	default:
		writeJSON(w, http.StatusCreated, map[string]string{
			"id":      sub.ID,
			"message": catalog.T(lang, "contact.successMessage"),
		})
	}
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if s.contact == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "contact form is not available")
		return
	}
	limit := parseIntParam(r, "limit", defaultMessageLimit)
	if limit <= 0 || limit > maxMessageLimit {
		limit = maxMessageLimit
	}

	msgs, err := s.contact.Messages(r.Context(), limit)
	if err != nil {
		logging.Named(s.log, logging.Contact).Error("failed to list messages", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	if msgs == nil {
		msgs = []contact.Submission{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": msgs,
		"count":    len(msgs),
	})
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
