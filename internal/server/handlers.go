package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/a-synchronous/tour/internal/store"
)

// runRequest is the body of POST /sandbox and POST /share.
type runRequest struct {
	Code string `json:"code"`
	Mode string `json:"mode"`
	// Page is the route the snippet came from; it selects the page's library.
	Page string `json:"page,omitempty"`
}

type runResponse struct {
	Src string `json:"src"`
}

type shareResponse struct {
	ID string `json:"id"`
}

// decodeRunRequest reads a run request, enforcing the snippet size limit.
// It writes the error response itself and reports whether decoding worked.
func (s *Server) decodeRunRequest(w http.ResponseWriter, r *http.Request) (*runRequest, bool) {
	maxCode := s.config.Sandbox.GetMaxCode()
	// JSON escaping can grow the body; the code length is checked after decoding.
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxCode)*2+1024)

	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "snippet too large")
			return nil, false
		}
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return nil, false
	}
	if len(req.Code) > maxCode {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "snippet too large")
		return nil, false
	}
	if req.Mode == "" {
		req.Mode = "javascript"
	}
	return &req, true
}

// handleRun turns edited snippet text into an iframe src.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRunRequest(w, r)
	if !ok {
		return
	}

	tmpl := s.templateFor(s.route(req.Page))
	src, err := s.iframeSrc(tmpl, req.Mode, req.Code)
	if err != nil {
		s.logger.Debug("sandbox generation failed", zap.Error(err))
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, runResponse{Src: src})
}

// handleBlockSandbox serves the sandbox document for a block's original code,
// so a snippet can be opened on its own.
func (s *Server) handleBlockSandbox(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	i := strings.LastIndex(path, "/")
	if i <= 0 || i == len(path)-1 {
		http.NotFound(w, r)
		return
	}
	pageID, blockID := path[:i], path[i+1:]

	route := s.routeByPageID(pageID)
	if route == nil {
		http.NotFound(w, r)
		return
	}
	runner := route.Page.Runner(blockID)
	if runner == nil {
		http.NotFound(w, r)
		return
	}

	html, err := s.templateFor(route).HTML(runner.Code)
	if err != nil {
		s.logger.Error("failed to render sandbox", zap.String("page", pageID), zap.String("block", blockID), zap.Error(err))
		http.Error(w, "failed to render sandbox", http.StatusInternalServerError)
		return
	}

	// Opened directly the document gets an opaque origin, like inside the iframe.
	w.Header().Set("Content-Security-Policy", "sandbox allow-scripts")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(html))
}

// handleShare stores a snippet and returns its id.
func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRunRequest(w, r)
	if !ok {
		return
	}

	snip, err := s.store.Save(r.Context(), req.Mode, req.Code)
	if err != nil {
		s.logger.Error("failed to share snippet", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "failed to share snippet")
		return
	}

	writeJSON(w, http.StatusCreated, shareResponse{ID: snip.ID})
}

// handleGetShare returns a shared snippet.
func (s *Server) handleGetShare(w http.ResponseWriter, r *http.Request) {
	snip, err := s.store.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "snippet not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to load snippet", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "failed to load snippet")
		return
	}

	writeJSON(w, http.StatusOK, snip)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
