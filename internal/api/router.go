// Package api exposes the onboarding service over HTTP.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter wires every onboarding route behind logging, panic recovery and
// CORS.
func NewRouter(svc Service, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(
		requestLogger,
		recoverer,
		corsMiddleware(allowedOrigins),
	)

	r.Get("/health", health())

	r.Post("/onboard", startOnboarding(svc))
	r.Get("/onboard-status/{merchantID}", onboardStatus(svc))

	r.Route("/files", func(r chi.Router) {
		r.Post("/upload-url", issueUploadURL(svc))
		r.Post("/upload-urls", issueBulkUploadURLs(svc))
		r.Post("/confirm", confirmUpload(svc))
	})

	r.Route("/merchants", func(r chi.Router) {
		r.Get("/", listMerchants(svc))
		r.Post("/persona", savePersona(svc))
		r.Get("/{merchantID}", getMerchant(svc))
		r.Patch("/{merchantID}", updateMerchant(svc))
		r.Delete("/{merchantID}", deleteMerchant(svc))
		r.Get("/{merchantID}/config", getMerchantConfig(svc))
		r.Patch("/{merchantID}/config", updateMerchantConfig(svc))
		r.Get("/{merchantID}/knowledge-base", listKnowledgeBase(svc))
		r.Delete("/{merchantID}/knowledge-base/*", deleteKnowledgeBaseFile(svc))
	})

	r.Post("/internal/jobs/{jobID}/run", runJob(svc))
	return r
}
