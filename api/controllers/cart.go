package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/cartsync/api/responses"
	"github.com/angelmondragon/cartsync/api/validators"
	"github.com/angelmondragon/cartsync/internal/cart"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/angelmondragon/cartsync/pkg/logger"
)

type addCartItemPayload struct {
	ProductID     string           `json:"product_id" validate:"required"`
	Name          string           `json:"name"`
	Price         decimal.Decimal  `json:"price" validate:"gte=0"`
	Discount      decimal.Decimal  `json:"discount" validate:"gte=0,lte=100"`
	ImageURL      string           `json:"image_url"`
	Quantity      int              `json:"quantity" validate:"omitempty,gte=1"`
	VariantID     string           `json:"variant_id"`
	Color         string           `json:"color"`
	Size          string           `json:"size"`
	PriceSnapshot *decimal.Decimal `json:"price_snapshot" validate:"omitempty,gte=0"`
}

type updateCartItemPayload struct {
	Quantity *int `json:"quantity" validate:"required"`
}

// CartFetch returns the current cart view.
func CartFetch(store CartStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart store unavailable"))
			return
		}
		responses.WriteSuccess(w, newCartResponse(store))
	}
}

// CartAddItem adds a product, defaulting the quantity to 1.
func CartAddItem(store CartStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if store == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart store unavailable"))
			return
		}

		var payload addCartItemPayload
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		quantity := payload.Quantity
		if quantity == 0 {
			quantity = 1
		}

		err := store.AddItem(ctx, cart.AddItemInput{
			Product: cart.Product{
				ID:       strings.TrimSpace(payload.ProductID),
				Name:     payload.Name,
				Price:    payload.Price,
				Discount: payload.Discount,
				ImageURL: payload.ImageURL,
			},
			Quantity:      quantity,
			Color:         payload.Color,
			Size:          payload.Size,
			VariantID:     payload.VariantID,
			PriceSnapshot: payload.PriceSnapshot,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newCartResponse(store))
	}
}

// CartUpdateItem sets a line quantity; zero or less removes the line.
func CartUpdateItem(store CartStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if store == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart store unavailable"))
			return
		}

		lineID := strings.TrimSpace(chi.URLParam(r, "lineId"))
		if lineID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "line id is required"))
			return
		}
		var payload updateCartItemPayload
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := store.UpdateQuantity(ctx, lineID, *payload.Quantity); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartResponse(store))
	}
}

// CartRemoveItem removes a line. Unknown lines succeed.
func CartRemoveItem(store CartStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if store == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart store unavailable"))
			return
		}

		lineID := strings.TrimSpace(chi.URLParam(r, "lineId"))
		if lineID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "line id is required"))
			return
		}
		if err := store.RemoveItem(ctx, lineID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartResponse(store))
	}
}

func CartClear(store CartStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if store == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart store unavailable"))
			return
		}
		if err := store.ClearCart(ctx); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear cart failed"))
			return
		}
		responses.WriteSuccess(w, newCartResponse(store))
	}
}

// CartCheckoutComplete drops the cart once the host reports a placed order.
func CartCheckoutComplete(store CartStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if store == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart store unavailable"))
			return
		}
		store.MarkCheckoutComplete(ctx)
		responses.WriteSuccess(w, newCartResponse(store))
	}
}
