package controllers

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/cartsync/api/responses"
	"github.com/angelmondragon/cartsync/api/validators"
	"github.com/angelmondragon/cartsync/internal/devicesync"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/angelmondragon/cartsync/pkg/logger"
)

type syncStatusResponse struct {
	Device        devicesync.Snapshot `json:"device"`
	CartItemCount int                 `json:"cartItemCount"`
	CartTotal     decimal.Decimal     `json:"cartTotal"`
	WishlistCount int                 `json:"wishlistCount"`
	// RemoteWishlistCount is the service's count for signed-in shoppers.
	RemoteWishlistCount *int `json:"remoteWishlistCount,omitempty"`
}

type onlinePayload struct {
	Online *bool `json:"online" validate:"required"`
}

// SyncStatus summarizes device status with cart and wishlist counts.
func SyncStatus(status StatusSource, carts CartStore, wishlists WishlistStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if status == nil || carts == nil || wishlists == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sync status unavailable"))
			return
		}
		resp := syncStatusResponse{
			Device:        status.Status(),
			CartItemCount: carts.ItemCount(),
			CartTotal:     carts.Total(),
			WishlistCount: wishlists.Count(),
		}
		count, err := wishlists.RemoteCount(r.Context())
		switch {
		case err == nil:
			resp.RemoteWishlistCount = &count
		case pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized):
		case logg != nil:
			logg.WarnErr(r.Context(), "remote wishlist count unavailable", err)
		}
		responses.WriteSuccess(w, resp)
	}
}

// SyncRun triggers a reconciliation tick.
func SyncRun(status StatusSource, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if status == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sync status unavailable"))
			return
		}
		if err := status.SyncNow(ctx); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sync failed").WithDetails(status.Status()))
			return
		}
		responses.WriteSuccess(w, status.Status())
	}
}

// SyncOnline records a connectivity change reported by the host.
func SyncOnline(status StatusSource, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if status == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sync status unavailable"))
			return
		}
		var payload onlinePayload
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		status.SetOnline(ctx, *payload.Online)
		responses.WriteSuccess(w, status.Status())
	}
}
