// Package api exposes the registration wizard to applicants and the
// case-working surface to reviewers over HTTP.
package api

import (
	"net/http"

	"github.com/co-cddo/domains-register-a-govuk-domain-sub000/internal/auth"
	"github.com/co-cddo/domains-register-a-govuk-domain-sub000/internal/db"
	"github.com/co-cddo/domains-register-a-govuk-domain-sub000/internal/pubsub"
	"github.com/co-cddo/domains-register-a-govuk-domain-sub000/internal/storage"
	"github.com/co-cddo/domains-register-a-govuk-domain-sub000/internal/wizard"
	"github.com/co-cddo/domains-register-a-govuk-domain-sub000/internal/ws"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type Dependencies struct {
	DB        *db.Pool
	Machine   *wizard.Machine
	Submitter *wizard.Submitter
	Files     storage.Storage
	Bus       *pubsub.Bus
	Hub       *ws.Hub
	JobClient wizard.JobClient
	JWT       *auth.JWTConfig
	Log       *zap.Logger
}

func Routes(d Dependencies) http.Handler {
	r := chi.NewRouter()

	// Add request logging middleware
	r.Use(RequestLogger(d.Log))

	// Applicant-facing wizard endpoints. The opaque session key is the
	// only credential an applicant holds.
	r.Post("/wizard/sessions", d.beginSession)
	r.Get("/wizard/sessions/{key}/answers", d.sessionAnswers)
	r.Post("/wizard/sessions/{key}/steps/{step}", d.advanceStep)
	r.Post("/wizard/sessions/{key}/steps/{step}/file", d.uploadFile)
	r.Post("/wizard/sessions/{key}/submit", d.submitApplication)

	// Stored evidence files
	r.Get("/files/*", d.serveFile)

	// Case-working endpoints, staff JWT required
	r.Group(func(r chi.Router) {
		r.Use(d.JWT.Middleware)

		r.Get("/applications", d.listApplications)
		r.Get("/applications/{id}", d.getApplication)
		r.Get("/applications/{id}/events", d.listEvents)
		r.Post("/applications/{id}/owner", d.setOwner)
		r.Post("/applications/{id}/status", d.setStatus)
		r.Get("/applications/{id}/review", d.getReview)
		r.Put("/applications/{id}/review/{section}", d.setReviewSection)
		r.Post("/applications/{id}/decision", d.decideApplication)

		r.Get("/timeflags", d.getTimeFlag)
		r.Put("/timeflags", d.updateTimeFlag)

		// WebSocket endpoint
		r.Get("/ws", d.wsHandler)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
