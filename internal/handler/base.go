package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
)

const flashCookieName = "flash"

type BaseHandler struct {
	Logger    *slog.Logger
	Templates *template.Template
	Secret    []byte
}

func (h *BaseHandler) render(w http.ResponseWriter, name string, data any) {
	if err := h.Templates.ExecuteTemplate(w, name, data); err != nil {
		h.Logger.Error("template error", "template", name, "err", err)
	}
}

func (h *BaseHandler) serverError(w http.ResponseWriter, r *http.Request, err error) {
	h.Logger.Error(err.Error(), "method", r.Method, "uri", r.URL.RequestURI())
	http.Error(w, "the server encountered a problem and could not process your request",
		http.StatusInternalServerError)
}

// flash stores a one-shot message in a signed cookie, read back and cleared
// by popFlash on the next page render.
func (h *BaseHandler) flash(w http.ResponseWriter, message string) {
	encoded := base64.RawURLEncoding.EncodeToString([]byte(message))
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    encoded + "." + h.sign(encoded),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *BaseHandler) popFlash(w http.ResponseWriter, r *http.Request) string {
	cookie, err := r.Cookie(flashCookieName)
	if err != nil {
		return ""
	}

	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	encoded, sig, ok := strings.Cut(cookie.Value, ".")
	if !ok || !hmac.Equal([]byte(sig), []byte(h.sign(encoded))) {
		return ""
	}
	message, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return ""
	}
	return string(message)
}

func (h *BaseHandler) sign(value string) string {
	mac := hmac.New(sha256.New, h.Secret)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}
