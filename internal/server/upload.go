package server

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var errTooLarge = errors.New("upload too large")

type uploadRequest struct {
	Name           string `json:"name"`
	Content        string `json:"content"`
	TargetSelector string `json:"targetSelector"`
}

type uploadResponse struct {
	Success  bool   `json:"success"`
	Path     string `json:"path"`
	Injected bool   `json:"injected"`
	Reason   string `json:"reason,omitempty"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	limit := s.opts.MaxUploadBytes
	// base64 inflates by 4/3; leave room for the JSON envelope.
	r.Body = http.MaxBytesReader(w, r.Body, limit/3*4+64<<10)

	var req uploadRequest
	if err := decodeBody(r, &req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.tooLarge(w)
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid upload request"})
		return
	}
	if req.Name == "" || req.Content == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Name and content required"})
		return
	}
	if s.ctrl.Status().ActiveTargetID == "" {
		s.notConnected(w)
		return
	}

	data, err := decodeContent(req.Content, limit)
	if errors.Is(err, errTooLarge) {
		s.tooLarge(w)
		return
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	path, err := s.saveUpload(req.Name, data)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	log.Printf("[INFO] [server] saved upload %s (%d bytes)", path, len(data))

	res := s.ctrl.UploadFile(r.Context(), path, req.TargetSelector)
	resp := uploadResponse{Success: true, Path: path, Injected: res.OK}
	if !res.OK {
		resp.Reason = res.Reason
		if resp.Reason == "" {
			resp.Reason = "injection_failed"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) tooLarge(w http.ResponseWriter) {
	writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{
		Error: fmt.Sprintf("File too large. Max %dMB.", s.opts.MaxUploadBytes>>20),
	})
}

// decodeContent accepts raw base64 or a data URL and enforces limit on the
// decoded size.
func decodeContent(content string, limit int64) ([]byte, error) {
	if strings.HasPrefix(content, "data:") {
		if idx := strings.LastIndex(content, ","); idx != -1 {
			content = content[idx+1:]
		}
	}
	content = strings.Join(strings.Fields(content), "")

	if int64(base64.StdEncoding.DecodedLen(len(content))) > limit+2 {
		return nil, errTooLarge
	}

	enc := base64.StdEncoding
	if !strings.HasSuffix(content, "=") && len(content)%4 != 0 {
		enc = base64.RawStdEncoding
	}
	data, err := enc.DecodeString(content)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 content: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, errTooLarge
	}
	return data, nil
}

// saveUpload writes data under the uploads dir as <unix-ms>-<basename> and
// returns the absolute path.
func (s *Server) saveUpload(name string, data []byte) (string, error) {
	base := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(name, `\`, "/")))
	if base == "/" || base == "." {
		return "", fmt.Errorf("invalid file name %q", name)
	}

	if err := os.MkdirAll(s.opts.UploadsDir, 0755); err != nil {
		return "", fmt.Errorf("create uploads dir: %w", err)
	}
	path := filepath.Join(s.opts.UploadsDir, fmt.Sprintf("%d-%s", time.Now().UnixMilli(), base))
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return path, nil
}
