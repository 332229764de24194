package api

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"

	"github.com/seantiz/drafter/internal/artifact"
	"github.com/seantiz/drafter/internal/model"
)

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookupExecution(w, r)
	if !ok {
		return
	}
	if rec.Status != model.StatusOK || rec.ArtifactPath == "" {
		s.writeError(w, http.StatusConflict, "execution has no artifact (status "+rec.Status+")")
		return
	}

	f, err := os.Open(rec.ArtifactPath)
	if errors.Is(err, fs.ErrNotExist) {
		s.writeError(w, http.StatusGone, "artifact no longer exists")
		return
	}
	if err != nil {
		s.logger.Error("open artifact", "execution_id", rec.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to open artifact")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		s.logger.Error("stat artifact", "execution_id", rec.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to open artifact")
		return
	}

	w.Header().Set("Content-Type", artifact.ContentType(rec.ArtifactPath))
	if rec.ObjectURL != "" {
		w.Header().Set("X-Object-Url", rec.ObjectURL)
	}
	http.ServeContent(w, r, filepath.Base(rec.ArtifactPath), info.ModTime(), f)
}
