package handler

import (
	"errors"
	"fmt"
	"html/template"
	"image"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/AadhithSridharan/Slicetool/internal/imaging"
	"github.com/AadhithSridharan/Slicetool/internal/store"
)

// frameDecoder extracts the image frames from a DICOM stream.
type frameDecoder interface {
	Decode(r io.Reader) ([]image.Image, error)
}

// UploadHandler handles the upload form and DICOM-to-PNG conversion.
type UploadHandler struct {
	BaseHandler
	sessions       *store.SessionStore
	decoder        frameDecoder
	maxUploadBytes int64
}

func NewUploadHandler(logger *slog.Logger, sessions *store.SessionStore, decoder frameDecoder, tmpl *template.Template, secret []byte, maxUploadSizeMB int) *UploadHandler {
	return &UploadHandler{
		BaseHandler:    BaseHandler{Logger: logger, Templates: tmpl, Secret: secret},
		sessions:       sessions,
		decoder:        decoder,
		maxUploadBytes: int64(maxUploadSizeMB) << 20,
	}
}

// Form renders the upload page.
func (h *UploadHandler) Form(w http.ResponseWriter, r *http.Request) {
	h.render(w, "index.html", map[string]any{"Flash": h.popFlash(w, r)})
}

// Upload accepts a multipart form with a single .dcm file, stores it in a
// fresh session, converts every frame to PNG, and renders the slice
// selection page.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		h.flash(w, "Upload too large or malformed.")
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("dicom_file")
	if err != nil {
		h.flash(w, "Please choose a DICOM file to upload.")
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".dcm") {
		h.flash(w, "Please upload a file with .dcm extension.")
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	sess, err := h.sessions.Allocate(header.Filename)
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	if err := saveSource(sess, file); err != nil {
		h.discard(sess)
		h.serverError(w, r, err)
		return
	}

	frames, err := h.decodeSource(sess)
	if err != nil {
		// A failed decode must not leave an orphaned session behind.
		h.discard(sess)
		switch {
		case errors.Is(err, imaging.ErrNoFrames):
			h.flash(w, "The DICOM file contains no decodable image frames.")
		case errors.Is(err, imaging.ErrNotDICOM):
			h.flash(w, "Uploaded file is not a valid DICOM file.")
		default:
			h.serverError(w, r, err)
			return
		}
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	names, err := imaging.WriteFrames(sess.SlicesDir(), frames)
	if err != nil {
		h.discard(sess)
		h.serverError(w, r, err)
		return
	}

	h.Logger.Info("upload converted", "session", sess.ID, "frames", len(names))

	h.render(w, "result.html", map[string]any{
		"Flash":   "",
		"Session": sess.ID,
		"Names":   names,
	})
}

func (h *UploadHandler) decodeSource(sess *store.UploadSession) ([]image.Image, error) {
	f, err := os.Open(sess.SourcePath())
	if err != nil {
		return nil, fmt.Errorf("opening saved upload: %w", err)
	}
	defer f.Close()

	return h.decoder.Decode(f)
}

func (h *UploadHandler) discard(sess *store.UploadSession) {
	if err := h.sessions.Release(sess); err != nil {
		h.Logger.Warn("discarding session", "session", sess.ID, "err", err)
	}
}

func saveSource(sess *store.UploadSession, file io.Reader) error {
	dst, err := os.Create(sess.SourcePath())
	if err != nil {
		return fmt.Errorf("creating source file: %w", err)
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		return fmt.Errorf("saving upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("saving upload: %w", err)
	}
	return nil
}
