package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	custommiddleware "github.com/passculture/pass-culture-core/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Compress(5, "application/json"))
	r.Use(custommiddleware.Logger(h.logger))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Get("/users/{userID}/deposit", h.GetDeposit)
		r.Post("/users/{userID}/deposit", h.UpsertDeposit)

		r.Post("/bookings/{bookingID}/pricing", h.PriceBooking)
		r.Post("/bookings/{bookingID}/pricing/cancel", h.CancelPricing)
		r.Get("/bookings/{bookingID}/pricings", h.GetPricingHistory)

		r.Route("/collective", func(r chi.Router) {
			r.Get("/offers/{offerID}", h.GetCollectiveOffer)
			r.Get("/templates/{templateID}", h.GetCollectiveOfferTemplate)

			r.Post("/bookings/{bookingID}/confirm", h.ConfirmCollectiveBooking)
			r.Post("/bookings/{bookingID}/cancel", h.CancelCollectiveBooking)
			r.Post("/bookings/{bookingID}/uncancel", h.UncancelCollectiveBooking)
			r.Post("/bookings/{bookingID}/refuse", h.RefuseCollectiveBooking)
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
