package handler

import (
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/AadhithSridharan/Slicetool/internal/archive"
	"github.com/AadhithSridharan/Slicetool/internal/imaging"
	"github.com/AadhithSridharan/Slicetool/internal/store"
)

// SlicesHandler serves generated slice images and zip downloads.
type SlicesHandler struct {
	BaseHandler
	sessions  *store.SessionStore
	retention time.Duration
}

func NewSlicesHandler(logger *slog.Logger, sessions *store.SessionStore, tmpl *template.Template, secret []byte, retention time.Duration) *SlicesHandler {
	return &SlicesHandler{
		BaseHandler: BaseHandler{Logger: logger, Templates: tmpl, Secret: secret},
		sessions:    sessions,
		retention:   retention,
	}
}

// Image serves one generated PNG from a session's slices directory.
func (h *SlicesHandler) Image(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(chi.URLParam(r, "session"))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	name := filepath.Base(chi.URLParam(r, "name"))
	path := filepath.Join(sess.SlicesDir(), name)
	if _, err := os.Stat(path); err != nil {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	http.ServeFile(w, r, path)
}

// Download builds an in-memory zip of the selected slices and streams it to
// the client. The session is released after a successful build, and sessions
// past the retention age are swept opportunistically on the way in.
func (h *SlicesHandler) Download(w http.ResponseWriter, r *http.Request) {
	h.sessions.Sweep(h.retention)

	if err := r.ParseForm(); err != nil {
		h.flash(w, "Invalid download request.")
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	sess, err := h.sessions.Get(r.FormValue("session"))
	if err != nil {
		h.flash(w, "Session expired or not found. Please upload again.")
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	names, err := sliceNames(sess)
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	selected, err := h.selectNames(r, names)
	if err != nil {
		h.render(w, "result.html", map[string]any{
			"Flash":   "Please provide a valid positive integer for nth slice.",
			"Session": sess.ID,
			"Names":   names,
		})
		return
	}
	if len(selected) == 0 {
		h.flash(w, "No slices selected for download.")
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	data, err := archive.Build(sess.SlicesDir(), sess.ID, selected)
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", sess.ID+".zip"))
	w.Header().Set("Content-Length", fmt.Sprint(len(data)))
	if _, err := w.Write(data); err != nil {
		h.Logger.Warn("streaming archive", "session", sess.ID, "err", err)
	}

	h.Logger.Info("download served", "session", sess.ID, "slices", len(selected))

	if err := h.sessions.Release(sess); err != nil {
		h.Logger.Warn("releasing session", "session", sess.ID, "err", err)
	}
}

// selectNames resolves the request's selection: explicit checkboxes win,
// otherwise the stride field picks every nth slice starting from the first.
func (h *SlicesHandler) selectNames(r *http.Request, names []string) ([]string, error) {
	if selected := r.Form["selected"]; len(selected) > 0 {
		known := make(map[string]bool, len(names))
		for _, name := range names {
			known[name] = true
		}
		var out []string
		for _, name := range selected {
			if name = filepath.Base(name); known[name] {
				out = append(out, name)
			}
		}
		return out, nil
	}

	stride, err := imaging.ParseStride(r.FormValue("n"))
	if err != nil {
		return nil, err
	}

	var out []string
	for _, i := range imaging.StrideIndices(len(names), stride) {
		out = append(out, names[i])
	}
	return out, nil
}

// sliceNames lists a session's PNGs in frame order.
func sliceNames(sess *store.UploadSession) ([]string, error) {
	entries, err := os.ReadDir(sess.SlicesDir())
	if err != nil {
		return nil, fmt.Errorf("listing slices: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".png") {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return nil, errors.New("session has no slices")
	}

	sort.Strings(names)
	return names, nil
}
