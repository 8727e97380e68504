// Package server is the read-only HTTP surface over the release store:
// HTML pages for browsing releases and a JSON API mirroring the data
// model. Every handler is a single read path with no cross-request state,
// so the server is safely reentrant under concurrent load.
package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"regexp"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rustdist/internal/database"
	"rustdist/internal/model"
	"rustdist/internal/version"
)

//go:embed templates/*.html
var templateFiles embed.FS

// componentNamePattern bounds what a component path segment may look like.
// Anything else is rejected before storage is consulted.
var componentNamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// Logger is the minimal logging surface the server needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Server routes requests to the query layer and renders HTML or JSON.
type Server struct {
	store *database.Store
	log   Logger
	tmpl  *template.Template
}

// New creates a Server over the given store.
func New(store *database.Store, log Logger) (*Server, error) {
	tmpl, err := template.ParseFS(templateFiles, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parsing templates: %w", err)
	}
	return &Server{store: store, log: log, tmpl: tmpl}, nil
}

// Handler builds the route table. All data routes are GET-only; other
// methods get a 405 with the same error rendering as any other failure.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/{$}", s.get(s.handleIndex))
	mux.Handle("/info/all", s.get(s.handleAllVersions))
	mux.Handle("/info/{version}", s.get(s.handleVersionInfo))
	mux.Handle("/info/component/{component}/{version}", s.get(s.handleComponentInfo))

	mux.Handle("/api/v1/version/{version}", s.get(s.handleVersionAPI))
	mux.Handle("/api/v1/component/{component}/{version}", s.get(s.handleComponentAPI))
	mux.Handle("/api/v1/named_channels", s.get(s.handleNamedChannelsAPI))

	mux.Handle("/metrics", promhttp.Handler())

	// Everything else is a 404 rendered in our own format.
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		s.renderError(w, r, http.StatusNotFound, "no such page")
	})

	return s.withMiddleware(mux)
}

// get enforces the GET-only contract for a route.
func (s *Server) get(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			s.renderError(w, r, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h(w, r)
	})
}

// resolveRelease turns a raw version path segment into a stored release.
// The segment is classified before any query runs: invalid strings never
// reach storage. The returned status is only meaningful when err != nil.
func (s *Server) resolveRelease(ctx context.Context, raw string) (*model.Release, int, error) {
	parsed := version.Parse(raw)

	var (
		rel *model.Release
		err error
	)
	switch parsed.Kind {
	case version.KindAlias:
		rel, err = s.store.GetReleaseByChannel(ctx, parsed.Channel)
	case version.KindRelease:
		rel, err = s.store.GetReleaseByVersion(ctx, parsed.Version)
	default:
		return nil, http.StatusBadRequest, fmt.Errorf("malformed version %q", raw)
	}

	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, http.StatusNotFound, fmt.Errorf("version %q not found", raw)
		}
		s.log.Error("release lookup failed", "version", raw, "error", err)
		return nil, http.StatusServiceUnavailable, fmt.Errorf("storage unavailable")
	}
	return rel, 0, nil
}

// HTML handlers

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	named, err := s.store.ListNamedChannels(r.Context())
	if err != nil {
		s.log.Error("listing named channels", "error", err)
		s.renderError(w, r, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	releases, err := s.store.ListReleases(r.Context())
	if err != nil {
		s.log.Error("listing releases", "error", err)
		s.renderError(w, r, http.StatusServiceUnavailable, "storage unavailable")
		return
	}

	s.renderPage(w, r, http.StatusOK, "index.html", struct {
		NamedChannels []model.Release
		Releases      []model.Release
	}{named, releases})
}

func (s *Server) handleAllVersions(w http.ResponseWriter, r *http.Request) {
	releases, err := s.store.ListReleases(r.Context())
	if err != nil {
		s.log.Error("listing releases", "error", err)
		s.renderError(w, r, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	s.renderPage(w, r, http.StatusOK, "versions.html", struct {
		Releases []model.Release
	}{releases})
}

func (s *Server) handleVersionInfo(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("version")
	rel, status, err := s.resolveRelease(r.Context(), raw)
	if err != nil {
		s.renderError(w, r, status, err.Error())
		return
	}
	s.renderPage(w, r, http.StatusOK, "release.html", rel)
}

func (s *Server) handleComponentInfo(w http.ResponseWriter, r *http.Request) {
	comp, rel, status, err := s.lookupComponent(r)
	if err != nil {
		s.renderError(w, r, status, err.Error())
		return
	}
	s.renderPage(w, r, http.StatusOK, "component.html", struct {
		ReleaseVersion string
		Requested      string
		Component      *model.Component
	}{rel.Version, r.PathValue("version"), comp})
}

// API handlers

func (s *Server) handleVersionAPI(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("version")
	rel, status, err := s.resolveRelease(r.Context(), raw)
	if err != nil {
		s.renderError(w, r, status, err.Error())
		return
	}
	s.writeJSON(w, r, rel)
}

func (s *Server) handleComponentAPI(w http.ResponseWriter, r *http.Request) {
	comp, _, status, err := s.lookupComponent(r)
	if err != nil {
		s.renderError(w, r, status, err.Error())
		return
	}
	s.writeJSON(w, r, comp)
}

func (s *Server) handleNamedChannelsAPI(w http.ResponseWriter, r *http.Request) {
	named, err := s.store.ListNamedChannels(r.Context())
	if err != nil {
		s.log.Error("listing named channels", "error", err)
		s.renderError(w, r, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	s.writeJSON(w, r, named)
}

// lookupComponent validates both path segments, resolves the version
// (which may be a channel alias) and fetches the component under it.
func (s *Server) lookupComponent(r *http.Request) (*model.Component, *model.Release, int, error) {
	name := r.PathValue("component")
	if !componentNamePattern.MatchString(name) {
		return nil, nil, http.StatusBadRequest, fmt.Errorf("malformed component name %q", name)
	}

	rel, status, err := s.resolveRelease(r.Context(), r.PathValue("version"))
	if err != nil {
		return nil, nil, status, err
	}

	comp, err := s.store.GetComponent(r.Context(), name, rel.Version)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, nil, http.StatusNotFound,
				fmt.Errorf("component %q not found in release %s", name, rel.Version)
		}
		s.log.Error("component lookup failed", "component", name, "release", rel.Version, "error", err)
		return nil, nil, http.StatusServiceUnavailable, fmt.Errorf("storage unavailable")
	}
	return comp, rel, 0, nil
}

// Rendering

// renderPage executes a template into a buffer first so a render failure
// can still produce a clean 500 instead of a half-written page.
func (s *Server) renderPage(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	var buf bytes.Buffer
	if err := s.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		s.log.Error("rendering template", "template", name, "path", r.URL.Path, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, data any) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(data); err != nil {
		s.log.Error("encoding response", "path", r.URL.Path, "error", err)
		s.renderError(w, r, http.StatusInternalServerError, "internal server error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	buf.WriteTo(w)
}
