package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/pointmarket/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса pointmarket.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.Logger(h.logger))

	// promhttp сжимает ответ сам.
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(custommiddleware.GzipMiddleware)

		r.Route("/api/user", func(r chi.Router) {
			r.Post("/login", h.Login)

			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.Middleware)

				r.Get("/me", h.Me)

				r.With(h.orderLimit).Post("/orders", h.PlaceOrder)
				r.Get("/orders", h.GetOrders)
				r.Post("/orders/{id}/return", h.RequestReturn)

				r.Get("/rentals", h.Rentals)
				r.Post("/membership/upgrade", h.UpgradeMembership)
			})
		})

		r.Route("/api/missions", func(r chi.Router) {
			r.Get("/", h.ListMissionTemplates)
			r.With(h.authMiddleware.Middleware).Post("/report", h.ReportMission)
		})

		r.Route("/api/admin", func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)
			r.Use(custommiddleware.RequireAdmin)

			r.Post("/users", h.CreateUser)
			r.Patch("/users/{id}/points", h.AdjustPoints)

			r.Post("/products", h.CreateProduct)

			r.Get("/orders", h.ListOrders)
			r.Patch("/orders/{id}/status", h.SetOrderStatus)

			r.Post("/missions", h.CreateMission)
			r.Get("/missions", h.ListMissions)
			r.Patch("/missions/{id}/status", h.SetMissionStatus)
			r.Delete("/missions/{id}", h.DeleteMission)

			r.Post("/jobs/rental-penalties", h.RunRentalPenalties)
			r.Post("/jobs/membership-fees", h.RunMembershipFees)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}

func (h *Handler) orderLimit(next http.Handler) http.Handler {
	if h.limiter == nil {
		return next
	}
	return h.limiter.Middleware(next)
}
