package cart

import (
	"context"
	"fmt"
	"sync"

	"github.com/angelmondragon/cartsync/internal/analytics"
	"github.com/angelmondragon/cartsync/internal/identity"
	"github.com/angelmondragon/cartsync/internal/remote"
	"github.com/shopspring/decimal"
)

// fakeService behaves like the storefront service: guest adds are not
// persisted, signed-in carts are kept per token.
type fakeService struct {
	mu        sync.Mutex
	carts     map[string][]remote.CartLine
	nextID    int
	getErr    error
	addErr    error
	removeErr map[string]error
	removed   []string
	gets      int
}

func newFakeService() *fakeService {
	return &fakeService{carts: map[string][]remote.CartLine{}, removeErr: map[string]error{}}
}

func (f *fakeService) GetCart(_ context.Context, id identity.Context) (remote.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.getErr != nil {
		return remote.Cart{}, f.getErr
	}
	if !id.Authenticated() {
		return remote.Cart{Items: []remote.CartLine{}, SessionID: id.SessionID}, nil
	}
	return f.cartLocked(id.Token), nil
}

func (f *fakeService) AddItem(_ context.Context, id identity.Context, req remote.AddItemRequest) (remote.AddResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return remote.AddResult{}, f.addErr
	}
	if !id.Authenticated() {
		return remote.AddResult{Kind: remote.AddResultGuest, Item: remote.CartLine{
			ProductID:     remote.ID(req.ProductID),
			VariantID:     remote.ID(req.VariantID),
			Quantity:      req.Quantity,
			PriceSnapshot: req.PriceSnapshot,
		}}, nil
	}
	lines := f.carts[id.Token]
	for i := range lines {
		if string(lines[i].ProductID) == req.ProductID && string(lines[i].VariantID) == req.VariantID {
			lines[i].Quantity += req.Quantity
			return remote.AddResult{Kind: remote.AddResultPersisted}, nil
		}
	}
	f.nextID++
	f.carts[id.Token] = append(lines, remote.CartLine{
		ID:            remote.ID(fmt.Sprintf("srv-%d", f.nextID)),
		ProductID:     remote.ID(req.ProductID),
		VariantID:     remote.ID(req.VariantID),
		Quantity:      req.Quantity,
		PriceSnapshot: req.PriceSnapshot,
	})
	return remote.AddResult{Kind: remote.AddResultPersisted}, nil
}

func (f *fakeService) UpdateItem(_ context.Context, id identity.Context, lineID string, quantity int) (remote.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, line := range f.carts[id.Token] {
		if string(line.ID) == lineID {
			f.carts[id.Token][i].Quantity = quantity
		}
	}
	return f.cartLocked(id.Token), nil
}

func (f *fakeService) RemoveItem(_ context.Context, id identity.Context, lineID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, lineID)
	if err := f.removeErr[lineID]; err != nil {
		return err
	}
	lines := f.carts[id.Token]
	kept := lines[:0]
	for _, line := range lines {
		if string(line.ID) != lineID {
			kept = append(kept, line)
		}
	}
	f.carts[id.Token] = kept
	return nil
}

func (f *fakeService) cartLocked(token string) remote.Cart {
	lines := append([]remote.CartLine{}, f.carts[token]...)
	total := decimal.Zero
	count := 0
	for _, line := range lines {
		if line.PriceSnapshot != nil {
			total = total.Add(line.PriceSnapshot.Mul(decimal.NewFromInt(int64(line.Quantity))))
		}
		count += line.Quantity
	}
	return remote.Cart{Items: lines, Total: &total, ItemCount: count}
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []analytics.Event
}

func (r *recordingEmitter) Track(_ context.Context, e analytics.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}
