package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/linemk/naijahub/internal/app/handlers"
	"github.com/linemk/naijahub/internal/auth"
	"github.com/linemk/naijahub/internal/lib/logger/handlers/urllog"
)

// Router монтирует все эндпоинты. Публичное чтение принимает необязательный
// токен, чтобы политики RLS видели вызывающего. Всё, что пишет
// или читает строки пользователя, требует токен.
func (a *App) Router() http.Handler {
	log := a.Logger
	secret := a.Config.JWT.Secret

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(urllog.CustomLoggerMiddleware(log))
	router.Use(middleware.Recoverer)
	router.Use(middleware.URLFormat)
	router.Use(a.Metrics.InstrumentHandler)

	router.Get("/healthz", handlers.HealthHandler())
	router.Method(http.MethodGet, "/metrics", a.Metrics.Handler())

	// публичное чтение
	router.Group(func(r chi.Router) {
		r.Use(auth.NewOptionalJWTMiddleware(secret))

		r.Get("/api/{marketplace}/listings", handlers.ListListingsHandler(log, a.Listings))
		r.Get("/api/{marketplace}/listings/{id}", handlers.GetListingHandler(log, a.Listings))
		r.Get("/api/reviews/{kind}/{id}", handlers.ListReviewsHandler(log, a.Reviews))
		r.Get("/api/reviews/{kind}/{id}/summary", handlers.ReviewSummaryHandler(log, a.Reviews))
		r.Get("/api/posts", handlers.ListPostsHandler(log, a.Posts))
	})

	router.Group(func(r chi.Router) {
		r.Use(auth.NewJWTMiddleware(secret))

		r.Post("/api/{marketplace}/listings", handlers.CreateListingHandler(log, a.Listings))
		r.Put("/api/{marketplace}/listings/{id}", handlers.UpdateListingHandler(log, a.Listings))
		r.Patch("/api/{marketplace}/listings/{id}/status", handlers.UpdateListingStatusHandler(log, a.Listings))
		r.Delete("/api/{marketplace}/listings/{id}", handlers.DeleteListingHandler(log, a.Listings))

		r.Get("/api/{marketplace}/cart", handlers.GetCartHandler(log, a.Carts))
		r.Post("/api/{marketplace}/cart", handlers.AddToCartHandler(log, a.Carts))
		r.Patch("/api/{marketplace}/cart/{itemID}", handlers.UpdateCartItemHandler(log, a.Carts))
		r.Delete("/api/{marketplace}/cart/{itemID}", handlers.RemoveCartItemHandler(log, a.Carts))

		r.Get("/api/{marketplace}/orders", handlers.ListOrdersHandler(log, a.Orders))
		r.Get("/api/{marketplace}/orders/{id}", handlers.GetOrderHandler(log, a.Orders))

		r.Get("/api/dashboard", handlers.DashboardHandler(log, a.Dashboard))
		r.Post("/api/reviews", handlers.CreateReviewHandler(log, a.Reviews))
		r.Get("/api/map-token", handlers.MapTokenHandler(log, a.Procedures))

		// дорогие или платные внешние вызовы
		r.Group(func(r chi.Router) {
			r.Use(a.Limiter.Middleware)

			r.Post("/api/{marketplace}/checkout", handlers.CheckoutHandler(log, a.Checkout))
			r.Post("/api/{marketplace}/images", handlers.UploadListingImageHandler(log, a.Media))
			r.Post("/api/posts/images", handlers.UploadPostImageHandler(log, a.Media))
			r.Post("/api/news/refresh", handlers.RefreshNewsHandler(log, a.Procedures))
		})
	})

	return router
}
