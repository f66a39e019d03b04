package api

import (
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/traceomatic/traceomatic/pkg/testid"
)

// artifactServer serves test artifacts (screenshots, trace files)
// directly from the results tree. Request paths are storage keys plus a
// file name, e.g. "20240131/f3a9.../001-trace.json.gz".
type artifactServer struct {
	log  logrus.FieldLogger
	root string
}

func newArtifactServer(log logrus.FieldLogger, root string) *artifactServer {
	return &artifactServer{
		log:  log.WithField("component", "artifacts"),
		root: filepath.Clean(root),
	}
}

// handleArtifact serves one artifact file.
func (s *server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	filePath := chi.URLParam(r, "*")

	if err := s.artifacts.serve(w, r, filePath); err != nil {
		http.NotFound(w, r)
	}
}

// serve resolves filePath under the results root and serves it via
// http.ServeFile. Returns an error when the path is disallowed or not
// found.
func (a *artifactServer) serve(
	w http.ResponseWriter,
	r *http.Request,
	filePath string,
) error {
	if !a.isAllowedPath(filePath) {
		return fmt.Errorf("path %q is not allowed", filePath)
	}

	full := filepath.Join(a.root, filePath)

	// Defense-in-depth: ensure the resolved path stays under root.
	if !strings.HasPrefix(full, a.root+string(filepath.Separator)) {
		return fmt.Errorf("path %q escapes the results root", filePath)
	}

	if fi, err := os.Stat(full); err != nil || fi.IsDir() {
		return fmt.Errorf("artifact %q not found", filePath)
	}

	http.ServeFile(w, r, full)

	return nil
}

// isAllowedPath rejects empty, absolute, unclean, or traversal request
// paths.
func (a *artifactServer) isAllowedPath(filePath string) bool {
	if filePath == "" {
		return false
	}

	if strings.Contains(filePath, "..") {
		return false
	}

	if filepath.IsAbs(filePath) {
		return false
	}

	return path.Clean(filePath) == filePath
}

// artifactURL returns the stable public path of an artifact file under
// a test's storage key.
func artifactURL(id, name string) string {
	return "/artifacts/" + testid.Path(id) + "/" + name
}
