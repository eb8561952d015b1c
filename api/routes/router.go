package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/cartsync/api/controllers"
	"github.com/angelmondragon/cartsync/api/middleware"
	"github.com/angelmondragon/cartsync/pkg/config"
	"github.com/angelmondragon/cartsync/pkg/logger"
)

// RouterParams groups the status surface dependencies.
type RouterParams struct {
	Config   *config.Config
	Logger   *logger.Logger
	Cart     controllers.CartStore
	Wishlist controllers.WishlistStore
	Status   controllers.StatusSource
	Sessions controllers.Sessions
	Gatherer prometheus.Gatherer
	OriginID string
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg, params.OriginID),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Get("/healthz", controllers.Healthz(cfg))
	if params.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(params.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/sync", func(r chi.Router) {
			r.Get("/status", controllers.SyncStatus(params.Status, params.Cart, params.Wishlist, logg))
			r.Post("/run", controllers.SyncRun(params.Status, logg))
			r.Put("/online", controllers.SyncOnline(params.Status, logg))
		})

		r.Route("/session", func(r chi.Router) {
			r.Put("/", controllers.SessionSignIn(params.Sessions, params.Cart, params.Wishlist, logg))
			r.Delete("/", controllers.SessionSignOut(params.Sessions, params.Cart, params.Wishlist, logg))
		})

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", controllers.CartFetch(params.Cart, logg))
			r.Delete("/", controllers.CartClear(params.Cart, logg))
			r.Post("/checkout-complete", controllers.CartCheckoutComplete(params.Cart, logg))
			r.Post("/items", controllers.CartAddItem(params.Cart, logg))
			r.Put("/items/{lineId}", controllers.CartUpdateItem(params.Cart, logg))
			r.Delete("/items/{lineId}", controllers.CartRemoveItem(params.Cart, logg))
		})

		r.Route("/wishlist", func(r chi.Router) {
			r.Get("/", controllers.WishlistFetch(params.Wishlist, logg))
			r.Post("/{productId}", controllers.WishlistAdd(params.Wishlist, logg))
			r.Delete("/{productId}", controllers.WishlistRemove(params.Wishlist, logg))
		})
	})

	return r
}
