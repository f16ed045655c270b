package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/AadhithSridharan/Slicetool/internal/handler"
	"github.com/AadhithSridharan/Slicetool/internal/imaging"
	"github.com/AadhithSridharan/Slicetool/internal/middleware"
	"github.com/AadhithSridharan/Slicetool/internal/web"
)

func (app *App) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders)

	// Static files
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(web.StaticFS))))

	// Health check
	r.Get("/api/health", handler.Health(app.sessions))

	secret := []byte(app.config.SessionSecret)

	uploadHandler := handler.NewUploadHandler(app.logger, app.sessions, imaging.Decoder{}, web.Templates, secret, app.config.MaxUploadSizeMB)
	slicesHandler := handler.NewSlicesHandler(app.logger, app.sessions, web.Templates, secret, app.config.RetentionAge)

	r.Get("/", uploadHandler.Form)
	r.Get("/image/{session}/{name}", slicesHandler.Image)

	// Conversion and archiving are the expensive paths
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitPerMinute(app.config.RateLimitPerMinute))

		r.Post("/upload", uploadHandler.Upload)
		r.Post("/download", slicesHandler.Download)
	})

	return r
}
