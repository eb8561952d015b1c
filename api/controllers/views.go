package controllers

import (
	"context"

	"github.com/angelmondragon/cartsync/internal/cart"
	"github.com/angelmondragon/cartsync/internal/devicesync"
	"github.com/angelmondragon/cartsync/internal/identity"
	"github.com/angelmondragon/cartsync/internal/wishlist"
	"github.com/shopspring/decimal"
)

// CartStore is the cart surface the handlers need.
type CartStore interface {
	State() cart.State
	Items() []cart.LineItem
	Total() decimal.Decimal
	ItemCount() int
	AddItem(ctx context.Context, in cart.AddItemInput) error
	UpdateQuantity(ctx context.Context, lineID string, quantity int) error
	RemoveItem(ctx context.Context, lineID string) error
	ClearCart(ctx context.Context) error
	AdoptGuestItems(ctx context.Context, guest []cart.LineItem) error
	MarkCheckoutComplete(ctx context.Context)
	Reset(ctx context.Context)
}

// WishlistStore is the wishlist surface the handlers need.
type WishlistStore interface {
	Items() []wishlist.Item
	Count() int
	IsLoading() bool
	Load(ctx context.Context) error
	AddItem(ctx context.Context, productID string) error
	RemoveItem(ctx context.Context, productID string) error
	RemoteCount(ctx context.Context) (int, error)
	Clear(ctx context.Context)
}

// StatusSource reports and drives device sync.
type StatusSource interface {
	Status() devicesync.Snapshot
	SyncNow(ctx context.Context) error
	SetOnline(ctx context.Context, online bool)
}

// Sessions switches the identity between guest and signed in.
type Sessions interface {
	Current(ctx context.Context) identity.Context
	SetToken(ctx context.Context, token string) error
	ClearToken(ctx context.Context) error
}

type lineItemResponse struct {
	ID            string           `json:"id,omitempty"`
	ProductID     string           `json:"productId"`
	VariantID     string           `json:"variantId,omitempty"`
	Name          string           `json:"name,omitempty"`
	Quantity      int              `json:"quantity"`
	UnitPrice     decimal.Decimal  `json:"unitPrice"`
	PriceSnapshot *decimal.Decimal `json:"priceSnapshot,omitempty"`
	LineTotal     decimal.Decimal  `json:"lineTotal"`
	SelectedColor string           `json:"selectedColor,omitempty"`
	SelectedSize  string           `json:"selectedSize,omitempty"`
	ImageURL      string           `json:"imageUrl,omitempty"`
}

type cartResponse struct {
	Items     []lineItemResponse `json:"items"`
	Total     decimal.Decimal    `json:"total"`
	ItemCount int                `json:"itemCount"`
	IsOpen    bool               `json:"isOpen"`
	IsLoading bool               `json:"isLoading"`
	SessionID string             `json:"sessionId,omitempty"`
}

func newCartResponse(store CartStore) cartResponse {
	state := store.State()
	items := make([]lineItemResponse, 0, len(state.Items))
	for _, item := range state.Items {
		items = append(items, lineItemResponse{
			ID:            item.ID,
			ProductID:     item.ProductID,
			VariantID:     item.VariantID,
			Name:          item.Product.Name,
			Quantity:      item.Quantity,
			UnitPrice:     item.UnitPrice(),
			PriceSnapshot: item.PriceSnapshot,
			LineTotal:     item.LineTotal(),
			SelectedColor: item.SelectedColor,
			SelectedSize:  item.SelectedSize,
			ImageURL:      item.Product.ImageURL,
		})
	}
	return cartResponse{
		Items:     items,
		Total:     store.Total(),
		ItemCount: store.ItemCount(),
		IsOpen:    state.IsOpen,
		IsLoading: state.IsLoading,
		SessionID: state.SessionID,
	}
}

type wishlistResponse struct {
	Items     []wishlist.Item `json:"items"`
	Count     int             `json:"count"`
	IsLoading bool            `json:"isLoading"`
}

func newWishlistResponse(store WishlistStore) wishlistResponse {
	items := store.Items()
	if items == nil {
		items = []wishlist.Item{}
	}
	return wishlistResponse{Items: items, Count: store.Count(), IsLoading: store.IsLoading()}
}
