package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/posturedev/posturelink/internal/link"
	"github.com/posturedev/posturelink/internal/protocol"
	"github.com/posturedev/posturelink/internal/session"
)

// SyncStatus is the slice of the syncer the API reports on.
type SyncStatus interface {
	QueueLen() int
}

// API exposes the monitoring daemon over HTTP for the CLI and other local
// clients.
type API struct {
	ctrl   *link.Controller
	engine *session.Engine
	sync   SyncStatus
	logger *zap.Logger
}

func NewAPI(ctrl *link.Controller, engine *session.Engine, sync SyncStatus, logger *zap.Logger) *API {
	return &API{ctrl: ctrl, engine: engine, sync: sync, logger: logger}
}

// Routes registers every API endpoint plus the health handler.
func (a *API) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/health", HealthHandler)
	mux.HandleFunc("/api/status", a.handleStatus)
	mux.HandleFunc("/api/pause", a.handlePause)
	mux.HandleFunc("/api/resume", a.handleResume)
	mux.HandleFunc("/api/thresholds", a.handleThresholds)
	mux.HandleFunc("/api/sustain", a.handleSustain)
	mux.HandleFunc("/api/alarm", a.handleAlarm)
	mux.HandleFunc("/api/session/finalize", a.handleFinalize)
	mux.HandleFunc("/api/connect", a.handleConnect)
	mux.HandleFunc("/api/disconnect", a.handleDisconnect)
}

type statusResponse struct {
	Connection  string            `json:"connection"`
	LastError   string            `json:"last_error,omitempty"`
	Reading     *protocol.Reading `json:"reading,omitempty"`
	Posture     string            `json:"posture,omitempty"`
	Session     session.Snapshot  `json:"session"`
	QueuedSync  int               `json:"queued_sync"`
	ElapsedText string            `json:"elapsed"`
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	snap := a.engine.Snapshot()
	resp := statusResponse{
		Connection:  a.ctrl.State().String(),
		LastError:   a.ctrl.LastError(),
		Session:     snap,
		ElapsedText: snap.Elapsed.String(),
	}
	if a.sync != nil {
		resp.QueuedSync = a.sync.QueueLen()
	}
	if reading, ok := a.ctrl.LastReading(); ok {
		resp.Reading = &reading
		resp.Posture = string(reading.State())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	state := a.engine.Pause()
	// best effort: the device mirrors the pause on its LED when reachable
	if err := a.ctrl.Send(protocol.Pause(protocol.PauseOn)); err != nil && !errors.Is(err, link.ErrNotConnected) {
		a.logger.Warn("pause command send failed", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]string{"session": state.String()})
}

func (a *API) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	state := a.engine.Resume()
	if err := a.ctrl.Send(protocol.Pause(protocol.PauseOff)); err != nil && !errors.Is(err, link.ErrNotConnected) {
		a.logger.Warn("resume command send failed", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]string{"session": state.String()})
}

type thresholdsRequest struct {
	GreenMM int `json:"green_mm"`
	RedMM   int `json:"red_mm"`
}

// handleThresholds pushes new warning zone boundaries to the device. The
// stored thresholds update when the device echoes them back in its next
// status line, so a lost command never desynchronizes the client.
func (a *API) handleThresholds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req thresholdsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if req.RedMM <= req.GreenMM {
		badRequest(w, "red threshold must exceed green threshold")
		return
	}
	greenCmd, err := protocol.SetGreen(req.GreenMM)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	redCmd, err := protocol.SetRed(req.RedMM)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	for _, cmd := range []string{greenCmd, redCmd} {
		if err := a.sendCommand(w, cmd); err != nil {
			return
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"result": "sent"})
}

type sustainRequest struct {
	SustainMS int `json:"sustain_ms"`
}

// handleSustain reconfigures how long bad posture must persist before the
// device sounds its alarm, and keeps the local alert window in step.
func (a *API) handleSustain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req sustainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	cmd, err := protocol.SetTime(req.SustainMS)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := a.sendCommand(w, cmd); err != nil {
		return
	}
	a.engine.SetSustainDelay(time.Duration(req.SustainMS) * time.Millisecond)
	writeJSON(w, http.StatusAccepted, map[string]int{"sustain_ms": req.SustainMS})
}

func (a *API) handleAlarm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	on, err := strconv.ParseBool(r.URL.Query().Get("on"))
	if err != nil {
		badRequest(w, "query parameter on must be true or false")
		return
	}
	a.engine.SetAlarmEnabled(on)
	if err := a.sendCommand(w, protocol.Alarm(on)); err != nil {
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"alarm": on})
}

func (a *API) handleFinalize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	rec, ok := a.engine.Finalize()
	if !ok {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "no active session"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := a.ctrl.Reconnect(r.Context()); err != nil {
		if errors.Is(err, link.ErrPeerNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		a.logger.Warn("connect request failed", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"connection": a.ctrl.State().String()})
}

func (a *API) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	a.ctrl.Disconnect()
	resp := map[string]any{"connection": a.ctrl.State().String()}
	// a manual disconnect ends the monitoring interval
	if rec, ok := a.engine.Finalize(); ok {
		resp["session"] = rec
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) sendCommand(w http.ResponseWriter, cmd string) error {
	if err := a.ctrl.Send(cmd); err != nil {
		if errors.Is(err, link.ErrNotConnected) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "device not connected"})
			return err
		}
		a.logger.Warn("command send failed", zap.String("command", cmd), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}
