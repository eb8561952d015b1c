package controllers

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/cartsync/api/responses"
	"github.com/angelmondragon/cartsync/api/validators"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/angelmondragon/cartsync/pkg/logger"
)

type signInPayload struct {
	Token string `json:"token" validate:"required"`
}

type sessionResponse struct {
	Authenticated bool   `json:"authenticated"`
	SessionID     string `json:"sessionId,omitempty"`
}

// SessionSignIn switches to the signed-in identity, carries guest lines into
// the account cart and loads the wishlist.
func SessionSignIn(sessions Sessions, carts CartStore, wishlists WishlistStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if sessions == nil || carts == nil || wishlists == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "session unavailable"))
			return
		}

		var payload signInPayload
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		token := strings.TrimSpace(payload.Token)
		if token == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "token is required"))
			return
		}

		guest := carts.Items()
		if sessions.Current(ctx).Authenticated() {
			guest = nil
		}
		if err := sessions.SetToken(ctx, token); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		// adoption and wishlist failures leave the session signed in
		if err := carts.AdoptGuestItems(ctx, guest); err != nil && logg != nil {
			logg.WarnErr(ctx, "guest cart adoption incomplete", err)
		}
		if err := wishlists.Load(ctx); err != nil && logg != nil {
			logg.WarnErr(ctx, "wishlist load after sign in failed", err)
		}

		current := sessions.Current(ctx)
		responses.WriteSuccess(w, sessionResponse{Authenticated: current.Authenticated(), SessionID: current.SessionID})
	}
}

// SessionSignOut returns to guest mode and drops account state locally.
func SessionSignOut(sessions Sessions, carts CartStore, wishlists WishlistStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if sessions == nil || carts == nil || wishlists == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "session unavailable"))
			return
		}
		if err := sessions.ClearToken(ctx); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		carts.Reset(ctx)
		wishlists.Clear(ctx)

		current := sessions.Current(ctx)
		responses.WriteSuccess(w, sessionResponse{Authenticated: current.Authenticated(), SessionID: current.SessionID})
	}
}
