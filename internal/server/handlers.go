package server

import (
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"runtime"
	"time"

	"github.com/standardbeagle/aglink/internal/bridge"
	"github.com/standardbeagle/aglink/internal/discovery"
	"github.com/standardbeagle/aglink/internal/inject"
)

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[DEBUG] [server] write response: %v", err)
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) notConnected(w http.ResponseWriter) {
	writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "CDP not connected", Reason: inject.ReasonNotConnected})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.ctrl.LastSnapshot()
	if snap == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "No snapshot available yet"})
		return
	}

	switch r.URL.Query().Get("format") {
	case "", "html":
		writeJSON(w, http.StatusOK, snap)
	case "meta":
		writeJSON(w, http.StatusOK, snap.Meta())
	case "markdown":
		md, err := snap.Markdown()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
			return
		}
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		_, _ = w.Write([]byte(md))
	default:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "format must be html, markdown or meta"})
	}
}

type instancesResponse struct {
	ActiveTargetID string                `json:"activeTargetId"`
	ActivePort     int                   `json:"activePort"`
	Instances      []discovery.Candidate `json:"instances"`
}

func (s *Server) handleInstances(w http.ResponseWriter, r *http.Request) {
	cands, err := s.ctrl.Discover(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	if cands == nil {
		cands = []discovery.Candidate{}
	}
	st := s.ctrl.Status()
	writeJSON(w, http.StatusOK, instancesResponse{
		ActiveTargetID: st.ActiveTargetID,
		ActivePort:     st.ActivePort,
		Instances:      cands,
	})
}

type selectRequest struct {
	TargetID string `json:"targetId"`
}

type selectResponse struct {
	Success        bool   `json:"success"`
	ActiveTargetID string `json:"activeTargetId"`
	ActivePort     int    `json:"activePort"`
}

func (s *Server) handleSelectInstance(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := decodeBody(r, &req); err != nil || req.TargetID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "targetId required"})
		return
	}

	st, err := s.ctrl.SelectTarget(r.Context(), req.TargetID)
	if err != nil {
		writeJSON(w, statusForError(err), errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, selectResponse{
		Success:        true,
		ActiveTargetID: st.ActiveTargetID,
		ActivePort:     st.ActivePort,
	})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, bridge.ErrNoTargets):
		return http.StatusNotFound
	case errors.Is(err, bridge.ErrAllCandidatesFailed),
		errors.Is(err, bridge.ErrNotConnected),
		errors.Is(err, bridge.ErrStopped):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

type sendRequest struct {
	Message string `json:"message"`
}

type commandResponse struct {
	Success bool   `json:"success"`
	Method  string `json:"method,omitempty"`
	Target  string `json:"target,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeBody(r, &req); err != nil || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Message required"})
		return
	}

	res := s.ctrl.SendMessage(r.Context(), req.Message)
	switch {
	case res.OK:
		writeJSON(w, http.StatusOK, commandResponse{Success: true, Method: res.Method, Target: res.Target})
	case res.Reason == inject.ReasonNotConnected:
		s.notConnected(w)
	default:
		writeJSON(w, http.StatusInternalServerError, commandResponse{Success: false, Reason: res.Reason})
	}
}

type clickRequest struct {
	Text     string   `json:"text"`
	Tag      string   `json:"tag"`
	X        *float64 `json:"x"`
	Y        *float64 `json:"y"`
	Selector string   `json:"selector"`
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	var req clickRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid click request"})
		return
	}

	res := s.ctrl.Click(r.Context(), inject.ClickRequest{
		Selector: req.Selector,
		Text:     req.Text,
		Tag:      req.Tag,
		X:        req.X,
		Y:        req.Y,
	})
	switch {
	case res.OK:
		writeJSON(w, http.StatusOK, commandResponse{Success: true, Method: res.Method, Target: s.ctrl.Status().ActiveTitle})
	case res.Reason == inject.ReasonNotConnected:
		s.notConnected(w)
	case res.Reason == inject.ReasonInjectionError:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Click failed", Reason: res.Reason})
	default:
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Could not find element to click in active target", Reason: res.Reason})
	}
}

func (s *Server) handleDebugTargets(w http.ResponseWriter, r *http.Request) {
	view, err := s.ctrl.Targets(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	if view.Instances == nil {
		view.Instances = []discovery.Scored{}
	}
	writeJSON(w, http.StatusOK, view)
}

type probeResponse struct {
	Success  bool                  `json:"success"`
	Target   string                `json:"target"`
	Contexts []inject.ContextProbe `json:"contexts"`
}

func (s *Server) handleUploadProbe(w http.ResponseWriter, r *http.Request) {
	probes, err := s.ctrl.ProbeUploads(r.Context())
	if err != nil {
		if errors.Is(err, bridge.ErrNotConnected) {
			s.notConnected(w)
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, probeResponse{
		Success:  true,
		Target:   s.ctrl.Status().ActiveTitle,
		Contexts: probes,
	})
}

type sysResponse struct {
	Platform   string              `json:"platform"`
	Arch       string              `json:"arch"`
	Uptime     float64             `json:"uptime"`
	Interfaces map[string][]string `json:"interfaces"`
}

func (s *Server) handleSys(w http.ResponseWriter, _ *http.Request) {
	resp := sysResponse{
		Platform:   runtime.GOOS,
		Arch:       runtime.GOARCH,
		Uptime:     time.Since(s.started).Seconds(),
		Interfaces: make(map[string][]string),
	}
	if ifaces, err := net.Interfaces(); err == nil {
		for _, iface := range ifaces {
			addrs, err := iface.Addrs()
			if err != nil {
				continue
			}
			for _, a := range addrs {
				resp.Interfaces[iface.Name] = append(resp.Interfaces[iface.Name], a.String())
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
