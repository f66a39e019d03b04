package api

import (
	"embed"
	"html/template"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/traceomatic/traceomatic/pkg/testid"
)

//go:embed templates/*.html.tmpl
var templateFS embed.FS

var pageTemplates = template.Must(
	template.ParseFS(templateFS, "templates/*.html.tmpl"),
)

const siteTitle = "Trace-O-Matic"

var runParam = regexp.MustCompile(`^\d+$`)

// categoryOption is one trace-category checkbox on the submission form.
type categoryOption struct {
	Value   string
	Label   string
	DomID   string
	Checked bool
}

type indexPage struct {
	Title        string
	Categories   []categoryOption
	HighOverhead []categoryOption
}

type statusPage struct {
	Title   string
	ID      string
	Heading string
	Message string
}

// runResult lists the artifact links for one run. Empty fields mean the
// artifact is absent and the corresponding link is omitted.
type runResult struct {
	Number           int
	Screenshot       string
	PerfettoView     string
	JSONView         string
	PerfettoDownload string
	JSONDownload     string
}

type resultsPage struct {
	Title   string
	ID      string
	URL     string
	Runs    int
	Results []runResult
}

type viewerPage struct {
	Title    string
	TraceURL string
}

type errorPage struct {
	Title   string
	Message string
}

func (s *server) render(
	w http.ResponseWriter, status int, name string, data any,
) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)

	if err := pageTemplates.ExecuteTemplate(w, name, data); err != nil {
		s.log.WithError(err).
			WithField("template", name).
			Error("Failed to render page")
	}
}

// renderError replaces the page body with a single heading/message pair.
func (s *server) renderError(
	w http.ResponseWriter, status int, message string,
) {
	s.render(w, status, "error.html.tmpl", &errorPage{
		Title:   siteTitle,
		Message: message,
	})
}

// handleIndexPage renders the submission form.
func (s *server) handleIndexPage(w http.ResponseWriter, _ *http.Request) {
	defaults := make(
		map[string]struct{}, len(s.cfg.Trace.DefaultCategories),
	)
	for _, cat := range s.cfg.Trace.DefaultCategories {
		defaults[cat] = struct{}{}
	}

	page := &indexPage{Title: siteTitle}

	for _, cat := range s.cfg.Trace.Categories {
		_, checked := defaults[cat]
		opt := categoryOption{
			Value:   cat,
			Label:   cat,
			DomID:   "category-" + domID(cat),
			Checked: checked,
		}

		if rest, ok := strings.CutPrefix(cat, "disabled-by-default-"); ok {
			opt.Label = rest
			page.HighOverhead = append(page.HighOverhead, opt)
		} else {
			page.Categories = append(page.Categories, opt)
		}
	}

	s.render(w, http.StatusOK, "index.html.tmpl", page)
}

var nonLetters = regexp.MustCompile(`[^A-Za-z]`)

func domID(category string) string {
	return nonLetters.ReplaceAllString(category, "")
}

// handleResultsPage renders either the live status page (with the
// polling script) or, once the test is complete, the per-run artifact
// listing.
func (s *server) handleResultsPage(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("test")
	if id == "" {
		s.renderError(w, http.StatusBadRequest, "Missing test ID")

		return
	}

	if !testid.Valid(id) {
		s.renderError(w, http.StatusBadRequest, "Invalid test ID")

		return
	}

	info, err := s.store.Read(id)
	if err != nil {
		s.renderError(w, http.StatusNotFound, "Test not found")

		return
	}

	status := s.store.Resolve(id)
	if !status.Done {
		s.render(w, http.StatusOK, "status.html.tmpl", &statusPage{
			Title:   id + " Results : " + siteTitle,
			ID:      id,
			Heading: status.Heading,
			Message: status.Message,
		})

		return
	}

	page := &resultsPage{
		Title: id + " Results : " + siteTitle,
		ID:    id,
		URL:   info.URL,
		Runs:  info.Runs,
	}

	for run := 1; run <= info.Runs; run++ {
		arts, err := s.store.Artifacts(id, run)
		if err != nil {
			continue
		}

		result := runResult{Number: run}

		if arts.Screenshot != "" {
			result.Screenshot = artifactURL(id, arts.Screenshot)
		}

		if arts.PerfettoTrace != "" {
			result.PerfettoView = "/trace?test=" + id +
				"&run=" + strconv.Itoa(run)
			result.PerfettoDownload = artifactURL(id, arts.PerfettoTrace)
		}

		if arts.JSONTrace != "" {
			result.JSONView = "/devtools?test=" + id +
				"&run=" + strconv.Itoa(run)
			result.JSONDownload = artifactURL(id, arts.JSONTrace)
		}

		page.Results = append(page.Results, result)
	}

	s.render(w, http.StatusOK, "results.html.tmpl", page)
}

// viewerParams validates the test and run parameters shared by the two
// trace viewer pages. Returns ok=false after rendering an error page.
func (s *server) viewerParams(
	w http.ResponseWriter, r *http.Request,
) (id string, run int, ok bool) {
	id = r.URL.Query().Get("test")
	if id == "" || !testid.Valid(id) {
		s.renderError(w, http.StatusBadRequest, "Invalid trace")

		return "", 0, false
	}

	runStr := r.URL.Query().Get("run")
	if !runParam.MatchString(runStr) {
		s.renderError(w, http.StatusBadRequest, "Invalid run number")

		return "", 0, false
	}

	run, err := strconv.Atoi(runStr)
	if err != nil || run < 1 {
		s.renderError(w, http.StatusBadRequest, "Invalid run number")

		return "", 0, false
	}

	return id, run, true
}

// handleTracePage serves the Perfetto viewer page: it fetches the
// protobuf trace and forwards the bytes into the embedded Perfetto UI
// frame via postMessage.
func (s *server) handleTracePage(w http.ResponseWriter, r *http.Request) {
	id, run, ok := s.viewerParams(w, r)
	if !ok {
		return
	}

	arts, err := s.store.Artifacts(id, run)
	if err != nil || arts.PerfettoTrace == "" {
		s.renderError(w, http.StatusNotFound, "Trace not found")

		return
	}

	s.render(w, http.StatusOK, "trace.html.tmpl", &viewerPage{
		Title:    id + "." + strconv.Itoa(run) + " Trace : " + siteTitle,
		TraceURL: artifactURL(id, arts.PerfettoTrace),
	})
}

// handleDevToolsPage serves the DevTools viewer page: the embedded
// DevTools front end loads the JSON trace from its public URL, so this
// handoff needs an absolute URL.
func (s *server) handleDevToolsPage(w http.ResponseWriter, r *http.Request) {
	id, run, ok := s.viewerParams(w, r)
	if !ok {
		return
	}

	arts, err := s.store.Artifacts(id, run)
	if err != nil || arts.JSONTrace == "" {
		s.renderError(w, http.StatusNotFound, "Trace not found")

		return
	}

	s.render(w, http.StatusOK, "devtools.html.tmpl", &viewerPage{
		Title: id + "." + strconv.Itoa(run) +
			" Dev Tools : " + siteTitle,
		TraceURL: s.absoluteURL(r, artifactURL(id, arts.JSONTrace)),
	})
}

// absoluteURL builds a public URL for path, preferring the configured
// root URL over the request's host.
func (s *server) absoluteURL(r *http.Request, path string) string {
	if root := s.cfg.Server.RootURL; root != "" {
		return strings.TrimSuffix(root, "/") + path
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	return scheme + "://" + r.Host + path
}
