/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/donors/*         Declarations, addresses, contribution history
  /api/donations/*      Donation save, eligibility, saved hook
  /api/batches/*        Batch creation, add/remove, submission
  /api/reconcile        Bulk eligibility update
  /api/settings/*       Gift Aid settings
  /api/scenarios/*      Demo scenarios
  /*                    Static files (frontend)

STATIC FILE SERVING:
  Serves an admin UI from web/dist/ when one is installed.
  Falls back to index.html for client-side routing.

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Donor routes
		r.Route("/donors", func(r chi.Router) {
			r.Get("/", h.ListDonors)
			r.Get("/{id}/declarations", h.ListDeclarations)
			r.Post("/{id}/declarations", h.ApplyDeclaration)
			r.Get("/{id}/declarations/current", h.CurrentDeclaration)
			r.Get("/{id}/declarations/eligible", h.EligibleDeclaration)
			r.Post("/{id}/declarations/validate", h.ValidateDeclarations)
			r.Get("/{id}/address", h.DonorAddress)
			r.Put("/{id}/address", h.SaveAddress)
			r.Get("/{id}/contributions", h.DonorContributions)
		})

		// Donation routes
		r.Route("/donations", func(r chi.Router) {
			r.Get("/{id}", h.GetDonation)
			r.Put("/{id}", h.SaveDonation)
			r.Get("/{id}/eligibility", h.CheckEligibility)
			r.Post("/{id}/eligibility", h.ComputeEligibility)
			r.Post("/{id}/saved", h.DonationSaved)
		})

		// Batch routes
		r.Route("/batches", func(r chi.Router) {
			r.Post("/", h.CreateBatch)
			r.Get("/names", h.ListBatchNames)
			r.Post("/validate", h.PreviewBatch)
			r.Post("/remove", h.RemoveFromBatch)
			r.Post("/remove/validate", h.PreviewRemoval)
			r.Get("/{id}", h.GetBatch)
			r.Post("/{id}/donations", h.AddToBatch)
			r.Post("/{id}/submitted", h.MarkSubmitted)
		})

		// Admin routes
		r.Post("/reconcile", h.Reconcile)
		r.Route("/settings", func(r chi.Router) {
			r.Get("/", h.GetSettings)
			r.Put("/", h.UpdateSettings)
			r.Delete("/{key}", h.RevertSetting)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	// Serve static files (admin UI)
	// First try ./web/dist (development), then fall back to message
	staticDir := "./web/dist"
	if _, err := os.Stat(staticDir); os.IsNotExist(err) {
		// Try relative to executable
		exe, _ := os.Executable()
		staticDir = filepath.Join(filepath.Dir(exe), "web", "dist")
	}

	if _, err := os.Stat(staticDir); err == nil {
		fileServer := http.FileServer(http.Dir(staticDir))
		r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			fullPath := filepath.Join(staticDir, path)

			// Check if file exists
			if _, err := os.Stat(fullPath); os.IsNotExist(err) {
				// SPA routing: serve index.html
				http.ServeFile(w, r, filepath.Join(staticDir, "index.html"))
				return
			}
			fileServer.ServeHTTP(w, r)
		})
	} else {
		r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Gift Aid Engine</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Gift Aid Engine API</h1>
<p>No admin UI is installed in <code>web/dist</code>. The JSON API is served under <code>/api</code>.</p>
<h2>API Endpoints</h2>
<ul>
<li><a href="/api/donors">/api/donors</a> - Donors with declarations</li>
<li><a href="/api/settings">/api/settings</a> - Gift Aid settings</li>
<li><a href="/api/batches/names">/api/batches/names</a> - Batch names</li>
<li><a href="/api/scenarios">/api/scenarios</a> - List scenarios</li>
</ul>
</body>
</html>`))
		})
	}

	return r
}
