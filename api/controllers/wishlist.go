package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/cartsync/api/responses"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/angelmondragon/cartsync/pkg/logger"
)

// WishlistFetch returns the local wishlist view.
func WishlistFetch(store WishlistStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wishlist store unavailable"))
			return
		}
		responses.WriteSuccess(w, newWishlistResponse(store))
	}
}

// WishlistAdd saves a product. Guests get 401.
func WishlistAdd(store WishlistStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if store == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wishlist store unavailable"))
			return
		}

		productID := strings.TrimSpace(chi.URLParam(r, "productId"))
		if productID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "product id is required"))
			return
		}
		if err := store.AddItem(ctx, productID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newWishlistResponse(store))
	}
}

// WishlistRemove unsaves a product. Missing products succeed.
func WishlistRemove(store WishlistStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if store == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wishlist store unavailable"))
			return
		}

		productID := strings.TrimSpace(chi.URLParam(r, "productId"))
		if productID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "product id is required"))
			return
		}
		if err := store.RemoveItem(ctx, productID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newWishlistResponse(store))
	}
}
