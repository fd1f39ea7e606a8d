package server

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/TobiSchelling/recbench/internal/database"
	"github.com/TobiSchelling/recbench/internal/logger"
	"github.com/TobiSchelling/recbench/internal/telemetry"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// Run reports are rendered with tables.
var md = goldmark.New(goldmark.WithExtensions(extension.Table))

// Store is the run history the viewer reads. *database.DB implements it.
type Store interface {
	GetRuns(limit int) ([]database.Run, error)
	GetRun(id string) (*database.Run, error)
	GetModelScores(runID string) ([]database.ModelScore, error)
}

// Server is the HTTP viewer for stored evaluation runs.
type Server struct {
	db      Store
	metrics *telemetry.Metrics
	log     *logger.Logger
	pages   map[string]*template.Template
	mux     *http.ServeMux
}

// New creates a new Server. A nil metrics disables /metrics.
func New(db Store, metrics *telemetry.Metrics, log *logger.Logger) (*Server, error) {
	if log == nil {
		log = logger.Nop()
	}
	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"score":    func(v float64) string { return fmt.Sprintf("%.4f", v) },
		"shortID": func(id string) string {
			if len(id) > 8 {
				return id[:8]
			}
			return id
		},
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
	}

	// Parse base template first
	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// For each page template, clone the base and parse the page into the clone.
	// This gives each page its own {{define "content"}} and {{define "title"}}.
	pageNames := []string{"index.html", "run.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		_, err = clone.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{db: db, metrics: metrics, log: log, pages: pages, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	// Static files
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	// Routes
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/run/", s.handleRun)
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics.Handler())
	}
}

// runRow is a run with its model scores for the index page.
type runRow struct {
	Run    database.Run
	Scores []database.ModelScore
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	runs, err := s.db.GetRuns(100)
	if err != nil {
		s.log.Error("listing runs", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	rows := make([]runRow, 0, len(runs))
	for _, run := range runs {
		scores, err := s.db.GetModelScores(run.ID)
		if err != nil {
			s.log.Error("loading scores", "run", run.ID, "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		rows = append(rows, runRow{Run: run, Scores: scores})
	}

	s.render(w, "index.html", map[string]any{
		"Runs": rows,
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/run/")
	if id == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	run, err := s.db.GetRun(id)
	if err != nil {
		s.log.Error("loading run", "run", id, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	var scores []database.ModelScore
	if run != nil {
		scores, err = s.db.GetModelScores(run.ID)
		if err != nil {
			s.log.Error("loading scores", "run", id, "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
	} else {
		w.WriteHeader(http.StatusNotFound)
	}

	s.render(w, "run.html", map[string]any{
		"Run":    run,
		"RunID":  id,
		"Scores": scores,
	})
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		s.log.Error("template not found", "template", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		s.log.Error("rendering template", "template", name, "error", err)
	}
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// Serve starts the HTTP server on the given port.
func Serve(db Store, port int, metrics *telemetry.Metrics, log *logger.Logger) error {
	srv, err := New(db, metrics, log)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	srv.log.Info("server listening", "url", "http://"+addr)
	return http.ListenAndServe(addr, srv.Handler())
}
