package wishlist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/angelmondragon/cartsync/internal/identity"
	"github.com/angelmondragon/cartsync/internal/persist"
	"github.com/angelmondragon/cartsync/internal/remote"
	"github.com/angelmondragon/cartsync/internal/syncbus"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/angelmondragon/cartsync/pkg/logger"
	"github.com/shopspring/decimal"
)

const (
	DefaultSnapshotKey = "wishlist-storage"
	SnapshotVersion    = 1
)

// signInMessage is returned to guests calling a mutator.
const signInMessage = "must sign in to use the wishlist"

// Item is a saved product. ProductID is its identity.
type Item struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name,omitempty"`
	Price     decimal.Decimal `json:"price"`
	ImageURL  string          `json:"imageUrl,omitempty"`
	AddedAt   time.Time       `json:"addedAt"`
}

type wishlistService interface {
	GetWishlist(ctx context.Context, id identity.Context) ([]remote.WishlistEntry, error)
	AddToWishlist(ctx context.Context, id identity.Context, productID string) error
	RemoveFromWishlist(ctx context.Context, id identity.Context, productID string) error
	WishlistCount(ctx context.Context, id identity.Context) (int, error)
}

type identitySource interface {
	Current(ctx context.Context) identity.Context
	LogContext(ctx context.Context) context.Context
}

// StoreParams groups the wishlist store dependencies.
type StoreParams struct {
	Remote      wishlistService
	Identity    identitySource
	Storage     persist.Store
	Publisher   syncbus.Publisher
	Logger      *logger.Logger
	SnapshotKey string
}

// Store holds the signed-in shopper's wishlist. There is no guest wishlist:
// every mutator rejects callers without a token.
type Store struct {
	remote   wishlistService
	identity identitySource
	snapshot *persist.Snapshot[Item]
	pub      syncbus.Publisher
	logg     *logger.Logger

	mu       sync.Mutex
	items    []Item
	inflight int
}

type payload = syncbus.ItemsPayload[Item]

func NewStore(params StoreParams) (*Store, error) {
	if params.Remote == nil {
		return nil, fmt.Errorf("remote service required")
	}
	if params.Identity == nil {
		return nil, fmt.Errorf("identity provider required")
	}
	if params.Storage == nil {
		return nil, fmt.Errorf("storage required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	key := params.SnapshotKey
	if key == "" {
		key = DefaultSnapshotKey
	}
	return &Store{
		remote:   params.Remote,
		identity: params.Identity,
		snapshot: persist.NewSnapshot[Item](params.Storage, key, SnapshotVersion, map[int]persist.Migration{0: persist.NoopMigration}),
		pub:      params.Publisher,
		logg:     logg,
		items:    []Item{},
	}, nil
}

// Items returns a copy of the saved items.
func (s *Store) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Item{}, s.items...)
}

func (s *Store) Contains(productID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.items {
		if item.ProductID == productID {
			return true
		}
	}
	return false
}

func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// IsLoading reports whether a service call is in flight.
func (s *Store) IsLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight > 0
}

// Hydrate restores items from the persisted snapshot.
func (s *Store) Hydrate(ctx context.Context) error {
	items, err := s.snapshot.Load(ctx)
	if err != nil {
		if errors.Is(err, persist.ErrFutureVersion) {
			s.logg.WarnErr(ctx, "ignoring wishlist snapshot from newer schema", err)
			return nil
		}
		return fmt.Errorf("load wishlist snapshot: %w", err)
	}
	s.set(dedupe(items))
	return nil
}

// Load fetches the wishlist. Guests have none, so their local list is emptied.
// Network failures keep the current list.
func (s *Store) Load(ctx context.Context) error {
	ctx = s.logContext(ctx)
	id := s.identity.Current(ctx)
	if !id.Authenticated() {
		s.set([]Item{})
		s.persist(ctx)
		return nil
	}
	s.begin()
	defer s.end()
	if err := s.reload(ctx, id); err != nil {
		if pkgerrors.IsNetwork(err) {
			s.logg.WarnErr(ctx, "wishlist service unreachable; keeping local wishlist", err)
			return nil
		}
		s.logg.Error(ctx, "load wishlist failed", err)
		return err
	}
	return nil
}

// AddItem saves a product. Saving one that is already saved is not an error;
// the list is reloaded instead.
func (s *Store) AddItem(ctx context.Context, productID string) error {
	ctx, id, err := s.requireAuth(ctx)
	if err != nil {
		return err
	}
	if productID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	s.begin()
	defer s.end()

	if err := s.remote.AddToWishlist(ctx, id, productID); err != nil {
		if !pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
			s.logFailure(ctx, "add wishlist item failed", err)
			return err
		}
		s.logg.Debug(s.logg.WithField(ctx, "product_id", productID), "wishlist item already saved")
	}
	if err := s.reload(ctx, id); err != nil {
		s.logFailure(ctx, "reload wishlist failed", err)
		return err
	}
	s.broadcast(ctx, syncbus.ActionAdd)
	return nil
}

// RemoveItem drops a product. Removing one that is not saved succeeds.
func (s *Store) RemoveItem(ctx context.Context, productID string) error {
	ctx, id, err := s.requireAuth(ctx)
	if err != nil {
		return err
	}
	s.begin()
	defer s.end()

	if err := s.remote.RemoveFromWishlist(ctx, id, productID); err != nil {
		s.logFailure(ctx, "remove wishlist item failed", err)
		return err
	}
	if err := s.reload(ctx, id); err != nil {
		s.logFailure(ctx, "reload wishlist failed", err)
		return err
	}
	s.broadcast(ctx, syncbus.ActionRemove)
	return nil
}

// RemoteCount asks the service for the wishlist size.
func (s *Store) RemoteCount(ctx context.Context) (int, error) {
	ctx, id, err := s.requireAuth(ctx)
	if err != nil {
		return 0, err
	}
	return s.remote.WishlistCount(ctx, id)
}

// Clear drops the local list, e.g. on sign-out. The service is not touched.
func (s *Store) Clear(ctx context.Context) {
	s.set([]Item{})
	if err := s.snapshot.Clear(ctx); err != nil {
		s.logg.WarnErr(ctx, "clear wishlist snapshot", err)
	}
	s.broadcast(ctx, syncbus.ActionClear)
}

// ApplyRemote is the syncbus handler for wishlist envelopes.
func (s *Store) ApplyRemote(ctx context.Context, env syncbus.Envelope) error {
	if env.Action == syncbus.ActionClear {
		s.set([]Item{})
		s.persist(ctx)
		return nil
	}
	var body payload
	if err := env.DecodePayload(&body); err != nil {
		return err
	}
	s.set(dedupe(body.Items))
	s.persist(ctx)
	return nil
}

func (s *Store) requireAuth(ctx context.Context) (context.Context, identity.Context, error) {
	ctx = s.logContext(ctx)
	id := s.identity.Current(ctx)
	if !id.Authenticated() {
		return ctx, id, pkgerrors.New(pkgerrors.CodeUnauthorized, signInMessage)
	}
	return ctx, id, nil
}

func (s *Store) reload(ctx context.Context, id identity.Context) error {
	entries, err := s.remote.GetWishlist(ctx, id)
	if err != nil {
		return err
	}
	items := make([]Item, 0, len(entries))
	for _, entry := range entries {
		items = append(items, fromRemote(entry))
	}
	s.set(dedupe(items))
	s.persist(ctx)
	return nil
}

func fromRemote(entry remote.WishlistEntry) Item {
	item := Item{ProductID: string(entry.ProductID)}
	if entry.Product != nil {
		item.Name = entry.Product.Name
		item.Price = entry.Product.Price
		item.ImageURL = entry.Product.ImageURL
		if item.ProductID == "" {
			item.ProductID = string(entry.Product.ID)
		}
	}
	if entry.AddedAt != "" {
		if ts, err := time.Parse(time.RFC3339, entry.AddedAt); err == nil {
			item.AddedAt = ts
		}
	}
	return item
}

// dedupe keeps the first occurrence of each product.
func dedupe(items []Item) []Item {
	seen := make(map[string]struct{}, len(items))
	out := make([]Item, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		out = append(out, item)
	}
	return out
}

func (s *Store) set(items []Item) {
	s.mu.Lock()
	s.items = items
	s.mu.Unlock()
}

func (s *Store) begin() {
	s.mu.Lock()
	s.inflight++
	s.mu.Unlock()
}

func (s *Store) end() {
	s.mu.Lock()
	if s.inflight > 0 {
		s.inflight--
	}
	s.mu.Unlock()
}

func (s *Store) persist(ctx context.Context) {
	if err := s.snapshot.Save(ctx, s.Items()); err != nil {
		s.logg.Error(ctx, "persist wishlist snapshot failed", err)
	}
}

func (s *Store) broadcast(ctx context.Context, action syncbus.Action) {
	if s.pub == nil {
		return
	}
	var body any
	if action != syncbus.ActionClear {
		body = payload{Items: s.Items()}
	}
	if err := s.pub.Publish(ctx, syncbus.DomainWishlist, action, body); err != nil {
		s.logg.WarnErr(ctx, "broadcast wishlist change failed", err)
	}
}

func (s *Store) logContext(ctx context.Context) context.Context {
	return s.identity.LogContext(s.logg.WithDomain(ctx, string(syncbus.DomainWishlist)))
}

func (s *Store) logFailure(ctx context.Context, msg string, err error) {
	if pkgerrors.IsNetwork(err) {
		s.logg.WarnErr(ctx, msg, err)
		return
	}
	s.logg.Error(ctx, msg, err)
}
