package controllers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/cartsync/internal/cart"
	"github.com/angelmondragon/cartsync/internal/devicesync"
	"github.com/angelmondragon/cartsync/pkg/config"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/angelmondragon/cartsync/pkg/logger"
)

func serve(t *testing.T, method, pattern, target string, body string, handler http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.MethodFunc(method, pattern, handler)

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func decodeData[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()
	var envelope struct {
		Data T `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return envelope.Data
}

func errorCode(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return envelope.Error.Code
}

func TestHealthz(t *testing.T) {
	resp := serve(t, http.MethodGet, "/healthz", "/healthz", "", Healthz(&config.Config{App: config.AppConfig{Env: "test"}}))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if got := resp.Header().Get("X-Cartsync-Env"); got != "test" {
		t.Fatalf("unexpected env header %q", got)
	}
}

func TestCartFetchReportsTotals(t *testing.T) {
	snapshot := decimal.RequireFromString("20.00")
	store := &stubCart{items: []cart.LineItem{{ID: "l1", ProductID: "p1", Quantity: 2, PriceSnapshot: &snapshot}}}

	resp := serve(t, http.MethodGet, "/v1/cart", "/v1/cart", "", CartFetch(store, nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	body := decodeData[cartResponse](t, resp)
	if body.ItemCount != 2 || !body.Total.Equal(decimal.RequireFromString("40")) {
		t.Fatalf("unexpected summary %+v", body)
	}
	if len(body.Items) != 1 || !body.Items[0].LineTotal.Equal(decimal.RequireFromString("40")) {
		t.Fatalf("unexpected items %+v", body.Items)
	}
	if body.SessionID != "sess-1" {
		t.Fatalf("unexpected session %q", body.SessionID)
	}
}

func TestCartAddItemDefaultsQuantity(t *testing.T) {
	store := &stubCart{}
	resp := serve(t, http.MethodPost, "/v1/cart/items", "/v1/cart/items", `{"product_id":"p1","price":"20.00"}`, CartAddItem(store, nil))
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", resp.Code)
	}
	if len(store.added) != 1 || store.added[0].Quantity != 1 || store.added[0].Product.ID != "p1" {
		t.Fatalf("unexpected add %+v", store.added)
	}
}

func TestCartAddItemValidation(t *testing.T) {
	cases := map[string]string{
		"missing product":   `{"quantity":1}`,
		"negative quantity": `{"product_id":"p1","quantity":-1}`,
		"unknown field":     `{"product_id":"p1","coupon":"x"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			store := &stubCart{}
			resp := serve(t, http.MethodPost, "/v1/cart/items", "/v1/cart/items", body, CartAddItem(store, nil))
			if resp.Code != http.StatusBadRequest {
				t.Fatalf("expected 400 got %d", resp.Code)
			}
			if len(store.added) != 0 {
				t.Fatalf("store should not be called")
			}
		})
	}
}

func TestCartUpdateAndRemove(t *testing.T) {
	store := &stubCart{}
	resp := serve(t, http.MethodPut, "/v1/cart/items/{lineId}", "/v1/cart/items/l1", `{"quantity":0}`, CartUpdateItem(store, nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if qty, ok := store.updated["l1"]; !ok || qty != 0 {
		t.Fatalf("unexpected update %+v", store.updated)
	}

	resp = serve(t, http.MethodPut, "/v1/cart/items/{lineId}", "/v1/cart/items/l1", `{}`, CartUpdateItem(store, nil))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing quantity got %d", resp.Code)
	}

	resp = serve(t, http.MethodDelete, "/v1/cart/items/{lineId}", "/v1/cart/items/l9", "", CartRemoveItem(store, nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if len(store.removed) != 1 || store.removed[0] != "l9" {
		t.Fatalf("unexpected removes %v", store.removed)
	}
}

func TestCartStoreErrorsMapToStatus(t *testing.T) {
	store := &stubCart{err: pkgerrors.Network(errBoom, "remote unreachable")}
	resp := serve(t, http.MethodDelete, "/v1/cart/items/{lineId}", "/v1/cart/items/l1", "", CartRemoveItem(store, nil))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}

	resp = serve(t, http.MethodDelete, "/v1/cart", "/v1/cart", "", CartClear(&stubCart{err: errBoom}, nil))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
}

func TestWishlistRequiresSignIn(t *testing.T) {
	store := &stubWishlist{}
	resp := serve(t, http.MethodPost, "/v1/wishlist/{productId}", "/v1/wishlist/p1", "", WishlistAdd(store, nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
	if code := errorCode(t, resp); code != string(pkgerrors.CodeUnauthorized) {
		t.Fatalf("unexpected code %s", code)
	}
	if store.Count() != 0 {
		t.Fatalf("wishlist should be untouched")
	}
}

func TestWishlistAddFetchRemove(t *testing.T) {
	store := &stubWishlist{authed: true}
	resp := serve(t, http.MethodPost, "/v1/wishlist/{productId}", "/v1/wishlist/p1", "", WishlistAdd(store, nil))
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", resp.Code)
	}

	resp = serve(t, http.MethodGet, "/v1/wishlist", "/v1/wishlist", "", WishlistFetch(store, nil))
	body := decodeData[wishlistResponse](t, resp)
	if body.Count != 1 || body.Items[0].ProductID != "p1" {
		t.Fatalf("unexpected wishlist %+v", body)
	}

	resp = serve(t, http.MethodDelete, "/v1/wishlist/{productId}", "/v1/wishlist/p1", "", WishlistRemove(store, nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	body = decodeData[wishlistResponse](t, resp)
	if body.Count != 0 || body.Items == nil {
		t.Fatalf("expected empty items array, got %+v", body)
	}
}

func TestSyncStatusSummary(t *testing.T) {
	status := &stubStatus{snapshot: devicesync.Snapshot{Status: devicesync.StatusSynced, Online: true}}
	snapshot := decimal.RequireFromString("5")
	carts := &stubCart{items: []cart.LineItem{{ProductID: "p1", Quantity: 3, PriceSnapshot: &snapshot}}}
	wishlists := &stubWishlist{authed: true}

	resp := serve(t, http.MethodGet, "/v1/sync/status", "/v1/sync/status", "", SyncStatus(status, carts, wishlists, nil))
	body := decodeData[syncStatusResponse](t, resp)
	if body.Device.Status != devicesync.StatusSynced || body.CartItemCount != 3 || !body.CartTotal.Equal(decimal.RequireFromString("15")) {
		t.Fatalf("unexpected status %+v", body)
	}
	if body.RemoteWishlistCount == nil || *body.RemoteWishlistCount != 1 {
		t.Fatalf("expected remote wishlist count 1, got %v", body.RemoteWishlistCount)
	}
}

func TestSyncStatusOmitsRemoteCount(t *testing.T) {
	status := &stubStatus{snapshot: devicesync.Snapshot{Status: devicesync.StatusOffline}}
	cases := map[string]*stubWishlist{
		"guest":       {},
		"unreachable": {authed: true, countErr: pkgerrors.New(pkgerrors.CodeDependency, "down").WithNetwork()},
	}
	for name, wishlists := range cases {
		t.Run(name, func(t *testing.T) {
			resp := serve(t, http.MethodGet, "/v1/sync/status", "/v1/sync/status", "", SyncStatus(status, &stubCart{}, wishlists, logger.Nop()))
			if resp.Code != http.StatusOK {
				t.Fatalf("expected 200 got %d", resp.Code)
			}
			body := decodeData[syncStatusResponse](t, resp)
			if body.RemoteWishlistCount != nil {
				t.Fatalf("expected no remote count, got %d", *body.RemoteWishlistCount)
			}
		})
	}
}

func TestCartCheckoutCompleteEmptiesCart(t *testing.T) {
	snapshot := decimal.RequireFromString("12")
	store := &stubCart{items: []cart.LineItem{{ID: "l1", ProductID: "p1", Quantity: 2, PriceSnapshot: &snapshot}}}

	resp := serve(t, http.MethodPost, "/v1/cart/checkout-complete", "/v1/cart/checkout-complete", "", CartCheckoutComplete(store, nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if !store.checked {
		t.Fatal("expected checkout completion to reach the store")
	}
	body := decodeData[cartResponse](t, resp)
	if body.ItemCount != 0 || len(body.Items) != 0 {
		t.Fatalf("expected empty cart, got %+v", body)
	}

	resp = serve(t, http.MethodPost, "/v1/cart/checkout-complete", "/v1/cart/checkout-complete", "", CartCheckoutComplete(nil, nil))
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", resp.Code)
	}
}

func TestSyncRunAndOnline(t *testing.T) {
	status := &stubStatus{snapshot: devicesync.Snapshot{Status: devicesync.StatusSynced, Online: true}}
	resp := serve(t, http.MethodPost, "/v1/sync/run", "/v1/sync/run", "", SyncRun(status, nil))
	if resp.Code != http.StatusOK || status.synced != 1 {
		t.Fatalf("expected one sync, got code %d synced %d", resp.Code, status.synced)
	}

	status.syncErr = errBoom
	resp = serve(t, http.MethodPost, "/v1/sync/run", "/v1/sync/run", "", SyncRun(status, nil))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}

	resp = serve(t, http.MethodPut, "/v1/sync/online", "/v1/sync/online", `{"online":false}`, SyncOnline(status, nil))
	body := decodeData[devicesync.Snapshot](t, resp)
	if body.Status != devicesync.StatusOffline || body.Online {
		t.Fatalf("unexpected snapshot %+v", body)
	}

	resp = serve(t, http.MethodPut, "/v1/sync/online", "/v1/sync/online", `{}`, SyncOnline(status, nil))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestSessionSignInAdoptsGuestItems(t *testing.T) {
	sessions := &stubSessions{}
	carts := &stubCart{items: []cart.LineItem{{ID: "local-1", ProductID: "p1", Quantity: 2}}}
	wishlists := &stubWishlist{}

	resp := serve(t, http.MethodPut, "/v1/session", "/v1/session", `{"token":"tok"}`, SessionSignIn(sessions, carts, wishlists, nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	body := decodeData[sessionResponse](t, resp)
	if !body.Authenticated {
		t.Fatalf("expected authenticated session")
	}
	if len(carts.adopted) != 1 || carts.adopted[0].ProductID != "p1" {
		t.Fatalf("expected guest line adopted, got %+v", carts.adopted)
	}
	if !wishlists.loaded {
		t.Fatalf("expected wishlist load")
	}
}

func TestSessionSignInWhenAlreadySignedInAdoptsNothing(t *testing.T) {
	sessions := &stubSessions{token: "old"}
	carts := &stubCart{items: []cart.LineItem{{ID: "srv-1", ProductID: "p1", Quantity: 1}}}

	resp := serve(t, http.MethodPut, "/v1/session", "/v1/session", `{"token":"new"}`, SessionSignIn(sessions, carts, &stubWishlist{}, nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if len(carts.adopted) != 0 {
		t.Fatalf("account lines must not be re-added: %+v", carts.adopted)
	}
}

func TestSessionSignOutResetsState(t *testing.T) {
	sessions := &stubSessions{token: "tok"}
	carts := &stubCart{items: []cart.LineItem{{ID: "srv-1", ProductID: "p1", Quantity: 1}}}
	wishlists := &stubWishlist{authed: true}

	resp := serve(t, http.MethodDelete, "/v1/session", "/v1/session", "", SessionSignOut(sessions, carts, wishlists, nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if sessions.token != "" || !carts.reset || !wishlists.cleared {
		t.Fatalf("expected token cleared and local state reset")
	}
}
