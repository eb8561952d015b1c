package controllers

import (
	"context"
	"errors"

	"github.com/angelmondragon/cartsync/internal/cart"
	"github.com/angelmondragon/cartsync/internal/devicesync"
	"github.com/angelmondragon/cartsync/internal/identity"
	"github.com/angelmondragon/cartsync/internal/wishlist"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/shopspring/decimal"
)

type stubCart struct {
	items   []cart.LineItem
	added   []cart.AddItemInput
	updated map[string]int
	removed []string
	adopted []cart.LineItem
	cleared bool
	reset   bool
	checked bool
	err     error
}

func (s *stubCart) State() cart.State {
	return cart.State{Items: s.items, SessionID: "sess-1"}
}

func (s *stubCart) Items() []cart.LineItem { return s.items }

func (s *stubCart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range s.items {
		total = total.Add(item.LineTotal())
	}
	return total
}

func (s *stubCart) ItemCount() int {
	count := 0
	for _, item := range s.items {
		count += item.Quantity
	}
	return count
}

func (s *stubCart) AddItem(_ context.Context, in cart.AddItemInput) error {
	if s.err != nil {
		return s.err
	}
	s.added = append(s.added, in)
	snapshot := in.Product.Price
	s.items = append(s.items, cart.LineItem{ID: "l1", ProductID: in.Product.ID, Quantity: in.Quantity, PriceSnapshot: &snapshot, Product: in.Product})
	return nil
}

func (s *stubCart) UpdateQuantity(_ context.Context, lineID string, quantity int) error {
	if s.err != nil {
		return s.err
	}
	if s.updated == nil {
		s.updated = map[string]int{}
	}
	s.updated[lineID] = quantity
	return nil
}

func (s *stubCart) RemoveItem(_ context.Context, lineID string) error {
	if s.err != nil {
		return s.err
	}
	s.removed = append(s.removed, lineID)
	return nil
}

func (s *stubCart) ClearCart(context.Context) error {
	if s.err != nil {
		return s.err
	}
	s.cleared = true
	s.items = nil
	return nil
}

func (s *stubCart) AdoptGuestItems(_ context.Context, guest []cart.LineItem) error {
	s.adopted = guest
	return nil
}

func (s *stubCart) MarkCheckoutComplete(context.Context) {
	s.checked = true
	s.items = nil
}

func (s *stubCart) Reset(context.Context) {
	s.reset = true
	s.items = nil
}

type stubWishlist struct {
	items    []wishlist.Item
	authed   bool
	loaded   bool
	cleared  bool
	countErr error
}

func (s *stubWishlist) Items() []wishlist.Item { return s.items }
func (s *stubWishlist) Count() int             { return len(s.items) }
func (s *stubWishlist) IsLoading() bool        { return false }

func (s *stubWishlist) Load(context.Context) error {
	s.loaded = true
	return nil
}

func (s *stubWishlist) AddItem(_ context.Context, productID string) error {
	if !s.authed {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "must sign in to use the wishlist")
	}
	s.items = append(s.items, wishlist.Item{ProductID: productID})
	return nil
}

func (s *stubWishlist) RemoveItem(_ context.Context, productID string) error {
	if !s.authed {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "must sign in to use the wishlist")
	}
	kept := s.items[:0]
	for _, item := range s.items {
		if item.ProductID != productID {
			kept = append(kept, item)
		}
	}
	s.items = kept
	return nil
}

func (s *stubWishlist) RemoteCount(context.Context) (int, error) {
	if !s.authed {
		return 0, pkgerrors.New(pkgerrors.CodeUnauthorized, "must sign in to use the wishlist")
	}
	if s.countErr != nil {
		return 0, s.countErr
	}
	return len(s.items) + 1, nil
}

func (s *stubWishlist) Clear(context.Context) {
	s.cleared = true
	s.items = nil
}

type stubStatus struct {
	snapshot devicesync.Snapshot
	syncErr  error
	synced   int
}

func (s *stubStatus) Status() devicesync.Snapshot { return s.snapshot }

func (s *stubStatus) SyncNow(context.Context) error {
	s.synced++
	return s.syncErr
}

func (s *stubStatus) SetOnline(_ context.Context, online bool) {
	s.snapshot.Online = online
	if online {
		s.snapshot.Status = devicesync.StatusSynced
	} else {
		s.snapshot.Status = devicesync.StatusOffline
	}
}

type stubSessions struct {
	token string
	err   error
}

func (s *stubSessions) Current(context.Context) identity.Context {
	return identity.Context{Token: s.token, SessionID: "sess-1"}
}

func (s *stubSessions) SetToken(_ context.Context, token string) error {
	if s.err != nil {
		return s.err
	}
	s.token = token
	return nil
}

func (s *stubSessions) ClearToken(context.Context) error {
	s.token = ""
	return nil
}

var errBoom = errors.New("boom")
