package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/srg/shotbridge/internal/device"
	"github.com/srg/shotbridge/internal/session"
	"github.com/srg/shotbridge/internal/store"
)

// Response status values.
const (
	StatusConnected    = "connected"
	StatusFailed       = "failed"
	StatusDisconnected = "disconnected"
	StatusNotConnected = "not connected"
	StatusOK           = "ok"
)

type errorResponse struct {
	Detail string `json:"detail"`
}

type devicesResponse struct {
	Devices []device.Descriptor `json:"devices"`
}

type connectRequest struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// ConnectResponse is the body of POST /connect.
type ConnectResponse struct {
	Status     string       `json:"status"`
	Address    string       `json:"address"`
	Name       string       `json:"name"`
	Model      device.Model `json:"model"`
	APIVersion string       `json:"api_version"`
	Detail     string       `json:"detail,omitempty"`
}

type disconnectRequest struct {
	Address string `json:"address"`
}

type disconnectResponse struct {
	Status  string `json:"status"`
	Address string `json:"address,omitempty"`
}

type titleBody struct {
	Title string `json:"title"`
}

type clearResponse struct {
	Status string `json:"status"`
	store.ArchiveResult
}

type sessionsResponse struct {
	Sessions []store.Summary `json:"sessions"`
	Offset   int             `json:"offset"`
	Limit    int             `json:"limit"`
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	found, err := s.deps.Registry.Scan(r.Context())
	if err != nil {
		s.logger.WithField("error", err).Warn("BLE scan failed")
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("BLE scan failed: %v", err))
		return
	}
	if found == nil {
		found = []device.Descriptor{}
	}
	s.writeJSON(w, http.StatusOK, devicesResponse{Devices: found})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	req.Address = strings.TrimSpace(req.Address)

	sess, err := s.deps.Registry.Connect(r.Context(), req.Address, req.Name)
	if device.IsRequestError(err) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	st := sess.Status()
	resp := ConnectResponse{
		Status:     StatusConnected,
		Address:    st.Address,
		Name:       st.Name,
		Model:      st.Model,
		APIVersion: st.APIVersion,
	}
	if err != nil {
		resp.Status = StatusFailed
		resp.Detail = err.Error()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var req disconnectRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	address := strings.TrimSpace(req.Address)
	if address == "" {
		s.writeError(w, http.StatusBadRequest, "Missing address")
		return
	}

	if !s.deps.Registry.Disconnect(address) {
		s.writeJSON(w, http.StatusOK, disconnectResponse{Status: StatusNotConnected})
		return
	}
	s.writeJSON(w, http.StatusOK, disconnectResponse{Status: StatusDisconnected, Address: address})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.deps.Registry.Status()
	if st.Devices == nil {
		st.Devices = []session.Status{}
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleGetTitle(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, titleBody{Title: s.deps.Title.Get()})
}

func (s *Server) handleSetTitle(w http.ResponseWriter, r *http.Request) {
	var req titleBody
	if !s.decodeBody(w, r, &req) {
		return
	}
	t, err := s.deps.Title.Set(req.Title)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, titleBody{Title: t})
}

func (s *Server) handleClearSessions(w http.ResponseWriter, _ *http.Request) {
	res, err := s.deps.Store.Archive(s.opts.Now())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if s.deps.Ledger != nil {
		s.deps.Ledger.ClearLast()
	}
	s.writeJSON(w, http.StatusOK, clearResponse{Status: StatusOK, ArchiveResult: res})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, err := queryInt(q.Get("offset"), "offset")
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	limit, err := queryInt(q.Get("limit"), "limit")
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	sessions, err := s.deps.Store.List(offset, limit)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if limit == 0 {
		limit = store.DefaultListLimit
	}
	if sessions == nil {
		sessions = []store.Summary{}
	}
	s.writeJSON(w, http.StatusOK, sessionsResponse{Sessions: sessions, Offset: offset, Limit: limit})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSuffix(r.PathValue("id"), ".csv")

	f, name, err := s.deps.Store.Open(id)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// decodeBody parses a JSON request body, answering 400 on failure.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

func queryInt(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, device.NewRequestError("%s must be an integer", name)
	}
	return v, nil
}

// writeFailure maps err onto a status code.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	switch {
	case device.IsRequestError(err):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrSessionNotFound):
		s.writeError(w, http.StatusNotFound, "Session not found")
	default:
		s.logger.WithField("error", err).Error("Request failed")
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, errorResponse{Detail: detail})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithFields(logrus.Fields{
			"status": status,
			"error":  err,
		}).Debug("Response write failed")
	}
}
