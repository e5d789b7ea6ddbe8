/**
 * @description
 * This file sets up the HTTP router for the benefits-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication and role checks.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for chi.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// BenefitRoutes creates and returns the router for the benefits service.
func BenefitRoutes(h *BenefitHandlers, jwtSecret, internalAPIKey string, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"https://*", "http://*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Internal-Api-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Route("/benefits", func(r chi.Router) {
		// Beneficiary self-service endpoints.
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(jwtSecret))
			r.Use(RequireRole(RoleBeneficiary))

			r.Get("/summary", h.GetSummaryHandler)
			r.Post("/installments/{installmentNumber}/apply", h.ApplyHandler)
		})

		// Caseworker review endpoints.
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(jwtSecret))
			r.Use(RequireRole(RoleCaseworker, RoleAdmin))

			r.Get("/applications/pending", h.ListPendingApplicationsHandler)
			r.Post("/applications/approve", h.ApproveApplicationHandler)
			r.Post("/applications/reject", h.RejectApplicationHandler)
			r.Post("/applications/mark-paid", h.MarkPaidHandler)

			r.Get("/beneficiaries", h.ListBeneficiariesHandler)
			r.Get("/beneficiaries/{beneficiaryID}/summary", h.GetBeneficiarySummaryHandler)
		})

		// Service-to-service endpoints guarded by the shared internal key.
		r.Group(func(r chi.Router) {
			r.Use(InternalKeyMiddleware(internalAPIKey))

			r.Post("/internal/enroll", h.EnrollHandler)
		})
	})

	return r
}
