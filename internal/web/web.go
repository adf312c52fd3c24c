// Package web serves the auxiliary read-only view over the catalog:
// a tape list, a per-tape directory browse, and the JSON listing
// endpoint a dashboard would consume. It never touches the drive or
// the live mount; every response is a catalog query.
package web

import (
	"encoding/json"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/tapevault/tapevault/internal/logging"
	"github.com/tapevault/tapevault/internal/models"
)

// Catalog is the subset of catalog.Store the web view reads from (and,
// for the single administrative action, writes to).
type Catalog interface {
	ListTapes() ([]models.Tape, error)
	FilesUnderForTape(tag, prefix string) ([]models.FileEntry, error)
	TotalCapacity() (total, free int64, err error)
	DropTape(tag string) error
}

// Server is the chi-routed HTTP server for the auxiliary view.
type Server struct {
	router     *chi.Mux
	catalog    Catalog
	logger     *logging.Logger
	adminToken string
}

// NewServer builds the router. An empty adminToken disables the delete
// route entirely (it always answers 403) rather than accepting an
// empty header as a match.
func NewServer(catalog Catalog, logger *logging.Logger, adminToken string) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		catalog:    catalog,
		logger:     logger,
		adminToken: adminToken,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Admin-Token"},
		MaxAge:         300,
	}))

	r.Get("/", s.handleIndex)
	r.Get("/browse/{tag}", s.handleBrowse)
	r.Get("/browse/{tag}/*", s.handleBrowse)
	r.Get("/api/files/{tag}", s.handleAPIFiles)
	r.Post("/admin/tapes/{tag}/delete", s.handleAdminDelete)
}

// fsEntry is one row of a directory listing, matching the JSON
// contract a dashboard consumes via /api/files.
type fsEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
	MTime int64  `json:"mtime"`
}

// listDirectory reduces a tape's file entries nested under prefix to
// the immediate children of that directory, the same "distinct first
// path-segment" rule the virtual filesystem's readdir uses, but scoped
// to a single tape's namespace rather than merged across the library.
func listDirectory(entries []models.FileEntry, prefix string) []fsEntry {
	skip := 0
	if prefix != "" {
		skip = len(prefix) + 1
	}

	order := make([]string, 0)
	byName := make(map[string]fsEntry)

	for _, e := range entries {
		rest := e.Path[skip:]
		if rest == "" {
			continue
		}
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			name := rest[:idx]
			if _, ok := byName[name]; !ok {
				order = append(order, name)
			}
			byName[name] = fsEntry{Name: name, IsDir: true}
			continue
		}
		if _, ok := byName[rest]; !ok {
			order = append(order, rest)
		}
		byName[rest] = fsEntry{Name: rest, IsDir: false, Size: e.Size, MTime: e.MTime}
	}

	out := make([]fsEntry, len(order))
	for i, name := range order {
		out[i] = byName[name]
	}
	return out
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	tapes, err := s.catalog.ListTapes()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	total, free, err := s.catalog.TotalCapacity()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var b strings.Builder
	b.WriteString("<html><head><title>TapeVault</title></head><body>\n")
	b.WriteString("<h1>TapeVault</h1>\n")
	b.WriteString("<p>Library: " + humanize.Bytes(uint64(total-free)) + " used of " + humanize.Bytes(uint64(total)) + "</p>\n")
	b.WriteString("<table border=\"1\"><tr><th>Volume</th><th>Last seen</th><th>Used</th><th>Capacity</th><th></th></tr>\n")
	for _, t := range tapes {
		used := t.TotalSpace - t.FreeSpace
		pct := 0.0
		if t.TotalSpace > 0 {
			pct = float64(used) / float64(t.TotalSpace) * 100
		}
		tag := html.EscapeString(t.VolumeTag)
		b.WriteString("<tr>")
		b.WriteString("<td><a href=\"/browse/" + tag + "\">" + tag + "</a></td>")
		b.WriteString("<td>" + humanize.Time(time.Unix(t.LastSeen, 0)) + "</td>")
		b.WriteString("<td>" + humanize.Bytes(uint64(used)) + " (" + humanize.FormatFloat("#.#", pct) + "%)</td>")
		b.WriteString("<td>" + humanize.Bytes(uint64(t.TotalSpace)) + "</td>")
		b.WriteString("<td><form method=\"post\" action=\"/admin/tapes/" + tag + "/delete\"><button>Delete</button></form></td>")
		b.WriteString("</tr>\n")
	}
	b.WriteString("</table></body></html>\n")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(b.String()))
}

func (s *Server) handleBrowse(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")
	subpath := strings.Trim(chi.URLParam(r, "*"), "/")

	entries, err := s.catalog.FilesUnderForTape(tag, subpath)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	listing := listDirectory(entries, subpath)

	safeTag := html.EscapeString(tag)
	safeSubpath := html.EscapeString(subpath)

	var b strings.Builder
	b.WriteString("<html><head><title>Browse " + safeTag + "</title></head><body>\n")
	b.WriteString("<h1>Browse " + safeTag + ": /" + safeSubpath + "</h1>\n")
	b.WriteString("<a href=\"/\">Back to tapes</a>\n<ul>\n")
	for _, e := range listing {
		childPath := e.Name
		if subpath != "" {
			childPath = subpath + "/" + e.Name
		}
		safeChildPath := html.EscapeString(childPath)
		safeName := html.EscapeString(e.Name)
		if e.IsDir {
			b.WriteString("<li><a href=\"/browse/" + safeTag + "/" + safeChildPath + "\">" + safeName + "/</a></li>\n")
		} else {
			b.WriteString("<li>" + safeName + " (" + humanize.Bytes(uint64(e.Size)) + ")</li>\n")
		}
	}
	b.WriteString("</ul></body></html>\n")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(b.String()))
}

func (s *Server) handleAPIFiles(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")
	path := strings.Trim(r.URL.Query().Get("path"), "/")

	entries, err := s.catalog.FilesUnderForTape(tag, path)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"path":    path,
		"entries": listDirectory(entries, path),
	})
}

func (s *Server) handleAdminDelete(w http.ResponseWriter, r *http.Request) {
	if s.adminToken == "" || r.Header.Get("X-Admin-Token") != s.adminToken {
		s.respondError(w, http.StatusForbidden, "admin token required")
		return
	}

	tag := chi.URLParam(r, "tag")
	if err := s.catalog.DropTape(tag); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted", "volume_tag": tag})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	if s.logger != nil && status >= http.StatusInternalServerError {
		s.logger.Error("web request failed", map[string]interface{}{"error": message})
	}
	s.respondJSON(w, status, map[string]string{"error": message})
}
