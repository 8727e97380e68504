package server

import (
	"encoding/json"
	"net/http"
	"strings"
)

// errorResponse is the JSON error body for /api/ routes. The HTML error
// page carries the same three fields.
type errorResponse struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
	Path   string `json:"path"`
}

// renderError writes an error response with the given status and
// human-readable reason, as JSON for /api/ routes and as an HTML page
// otherwise. The original request path is always included.
func (s *Server) renderError(w http.ResponseWriter, r *http.Request, status int, reason string) {
	if isAPIRequest(r) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(errorResponse{
			Status: status,
			Error:  reason,
			Path:   r.URL.Path,
		}); err != nil {
			s.log.Error("writing error response", "path", r.URL.Path, "error", err)
		}
		return
	}

	data := errorResponse{Status: status, Error: reason, Path: r.URL.Path}
	s.renderPage(w, r, status, "error.html", data)
}

func isAPIRequest(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/")
}
