package cart

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/cartsync/internal/analytics"
	"github.com/angelmondragon/cartsync/internal/identity"
	"github.com/angelmondragon/cartsync/internal/persist"
	"github.com/angelmondragon/cartsync/internal/remote"
	"github.com/angelmondragon/cartsync/internal/syncbus"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/angelmondragon/cartsync/pkg/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
)

const (
	DefaultSnapshotKey      = "cart-storage"
	DefaultRecoveryKey      = "cart-recovery-notice"
	SnapshotVersion         = 1
	defaultRecoveryCooldown = 24 * time.Hour
	localIDPrefix           = "local-"
)

type cartService interface {
	GetCart(ctx context.Context, id identity.Context) (remote.Cart, error)
	AddItem(ctx context.Context, id identity.Context, req remote.AddItemRequest) (remote.AddResult, error)
	UpdateItem(ctx context.Context, id identity.Context, lineID string, quantity int) (remote.Cart, error)
	RemoveItem(ctx context.Context, id identity.Context, lineID string) error
}

type identitySource interface {
	Current(ctx context.Context) identity.Context
	EnsureSession(ctx context.Context) (identity.Context, error)
	LogContext(ctx context.Context) context.Context
}

// Listener observes state after every change.
type Listener func(State)

// StoreParams groups the cart store dependencies.
type StoreParams struct {
	Remote           cartService
	Identity         identitySource
	Storage          persist.Store
	Publisher        syncbus.Publisher
	Analytics        analytics.Emitter
	Logger           *logger.Logger
	SnapshotKey      string
	RecoveryKey      string
	RecoveryCooldown time.Duration
	Now              func() time.Time
}

// Store is the cart state container. Guests get optimistic local updates; for
// signed-in shoppers the service is authoritative and every mutation ends in a
// reload. The mode is picked once per call from the identity context.
type Store struct {
	remote      cartService
	identity    identitySource
	storage     persist.Store
	snapshot    *persist.Snapshot[LineItem]
	pub         syncbus.Publisher
	emitter     analytics.Emitter
	logg        *logger.Logger
	recoveryKey string
	cooldown    time.Duration
	now         func() time.Time

	mu        sync.Mutex
	state     State
	inflight  int
	listeners map[int]Listener
	nextID    int
}

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
	emitter := params.Analytics
	if emitter == nil {
		emitter = analytics.Nop{}
	}
	key := params.SnapshotKey
	if key == "" {
		key = DefaultSnapshotKey
	}
	recoveryKey := params.RecoveryKey
	if recoveryKey == "" {
		recoveryKey = DefaultRecoveryKey
	}
	cooldown := params.RecoveryCooldown
	if cooldown <= 0 {
		cooldown = defaultRecoveryCooldown
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		remote:      params.Remote,
		identity:    params.Identity,
		storage:     params.Storage,
		snapshot:    persist.NewSnapshot[LineItem](params.Storage, key, SnapshotVersion, map[int]persist.Migration{0: persist.NoopMigration}),
		pub:         params.Publisher,
		emitter:     emitter,
		logg:        logg,
		recoveryKey: recoveryKey,
		cooldown:    cooldown,
		now:         now,
		state:       State{Items: []LineItem{}},
		listeners:   make(map[int]Listener),
	}, nil
}

// State returns a copy of the current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

// Items returns a copy of the line items.
func (s *Store) Items() []LineItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneItems(s.state.Items)
}

// Total prefers a nonzero server total, otherwise sums line totals locally.
func (s *Store) Total() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return totalOf(s.state)
}

// ItemCount sums quantities across lines.
func (s *Store) ItemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return countOf(s.state.Items)
}

func totalOf(state State) decimal.Decimal {
	if state.ServerTotal != nil && !state.ServerTotal.IsZero() {
		return *state.ServerTotal
	}
	total := decimal.Zero
	for _, item := range state.Items {
		total = total.Add(item.LineTotal())
	}
	return total
}

func countOf(items []LineItem) int {
	count := 0
	for _, item := range items {
		count += item.Quantity
	}
	return count
}

// Subscribe registers fn for state changes and returns its cancel func.
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Hydrate restores items from the persisted snapshot. A snapshot written by a
// newer schema is ignored.
func (s *Store) Hydrate(ctx context.Context) error {
	items, err := s.snapshot.Load(ctx)
	if err != nil {
		if errors.Is(err, persist.ErrFutureVersion) {
			s.logg.WarnErr(ctx, "ignoring cart snapshot from newer schema", err)
			return nil
		}
		return fmt.Errorf("load cart snapshot: %w", err)
	}
	s.update(func(st *State) { st.Items = items })
	return nil
}

// Load fetches the cart from the service. Network failures keep the current
// state and are not returned. A guest whose service cart is empty keeps the
// local items, since guest lines live only on this device.
func (s *Store) Load(ctx context.Context) error {
	id := s.identity.Current(ctx)
	ctx = s.logContext(ctx, id)
	s.begin()
	defer s.end()

	cart, err := s.remote.GetCart(ctx, id)
	if err != nil {
		if pkgerrors.IsNetwork(err) {
			s.logg.WarnErr(ctx, "cart service unreachable; keeping local cart", err)
			return nil
		}
		s.logg.Error(ctx, "load cart failed", err)
		return err
	}

	if !id.Authenticated() && len(cart.Items) == 0 {
		s.update(func(st *State) {
			st.ServerTotal = nil
			if cart.SessionID != "" {
				st.SessionID = cart.SessionID
			}
		})
		return nil
	}
	s.replace(ctx, cart, id)
	return nil
}

// AddItem adds quantity of a product, merging into an existing line with the
// same product and variant.
func (s *Store) AddItem(ctx context.Context, in AddItemInput) error {
	if in.Quantity == 0 {
		in.Quantity = 1
	}
	if err := validateAdd(in); err != nil {
		return err
	}

	id, err := s.identity.EnsureSession(ctx)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolve cart session")
	}
	ctx = s.logContext(ctx, id)
	s.begin()
	defer s.end()

	snapshot := in.PriceSnapshot
	if snapshot == nil && in.Product.Price.IsPositive() {
		unit := LineItem{Product: in.Product}.UnitPrice()
		snapshot = &unit
	}
	result, err := s.remote.AddItem(ctx, id, remote.AddItemRequest{
		ProductID:     in.Product.ID,
		Quantity:      in.Quantity,
		VariantID:     in.VariantID,
		PriceSnapshot: snapshot,
	})
	if err != nil {
		s.logFailure(ctx, "add cart item failed", err)
		return err
	}

	var line LineItem
	switch result.Kind {
	case remote.AddResultGuest:
		line = s.mergeGuestLine(ctx, in, snapshot, result.Item)
	case remote.AddResultPersisted:
		if err := s.reload(ctx, id); err != nil {
			return err
		}
		line = LineItem{ProductID: in.Product.ID, Quantity: in.Quantity, PriceSnapshot: snapshot, Product: in.Product}
	default:
		return pkgerrors.New(pkgerrors.CodeDependency, "unrecognized add item response")
	}
	s.broadcast(ctx, syncbus.ActionAdd)

	unit := line.UnitPrice()
	s.emitter.Track(ctx, analytics.Event{
		Name:       analytics.EventAddToCart,
		ProductID:  in.Product.ID,
		Quantity:   in.Quantity,
		UnitPrice:  unit,
		Value:      unit.Mul(decimal.NewFromInt(int64(in.Quantity))),
		SessionID:  id.SessionID,
		OccurredAt: s.now().UTC(),
	})
	return nil
}

func (s *Store) mergeGuestLine(ctx context.Context, in AddItemInput, snapshot *decimal.Decimal, returned remote.CartLine) LineItem {
	line := fromRemote(returned)
	if line.ProductID == "" {
		line.ProductID = in.Product.ID
	}
	if line.Quantity <= 0 {
		line.Quantity = in.Quantity
	}
	if line.VariantID == "" {
		line.VariantID = in.VariantID
	}
	if line.PriceSnapshot == nil {
		line.PriceSnapshot = snapshot
	}
	if returned.Product == nil {
		line.Product = in.Product
	}
	if line.SelectedColor == "" {
		line.SelectedColor = in.Color
	}
	if line.SelectedSize == "" {
		line.SelectedSize = in.Size
	}
	if line.ID == "" {
		line.ID = localIDPrefix + uuid.NewString()
	}

	items := s.update(func(st *State) {
		st.ServerTotal = nil
		for i := range st.Items {
			if st.Items[i].sameLine(line.ProductID, line.VariantID) {
				st.Items[i].Quantity += line.Quantity
				return
			}
		}
		st.Items = append(st.Items, line)
	})
	s.persist(ctx, items)
	return line
}

// RemoveItem deletes a line. Removing a line that is already gone succeeds.
func (s *Store) RemoveItem(ctx context.Context, lineID string) error {
	id := s.identity.Current(ctx)
	ctx = s.logContext(ctx, id)
	s.begin()
	defer s.end()

	if id.Authenticated() {
		if err := s.remote.RemoveItem(ctx, id, lineID); err != nil {
			s.logFailure(ctx, "remove cart item failed", err)
			return err
		}
		if err := s.reload(ctx, id); err != nil {
			return err
		}
		s.broadcast(ctx, syncbus.ActionRemove)
		return nil
	}

	if !isLocalID(lineID) && lineID != "" {
		if err := s.remote.RemoveItem(ctx, id, lineID); err != nil {
			s.logFailure(ctx, "remove cart item failed", err)
			return err
		}
	}
	removed := false
	items := s.update(func(st *State) {
		kept := st.Items[:0]
		for _, item := range st.Items {
			if item.ID == lineID {
				removed = true
				continue
			}
			kept = append(kept, item)
		}
		st.Items = kept
	})
	if !removed {
		return nil
	}
	s.persist(ctx, items)
	s.broadcast(ctx, syncbus.ActionRemove)
	return nil
}

// UpdateQuantity sets a line quantity; zero or less removes the line.
func (s *Store) UpdateQuantity(ctx context.Context, lineID string, quantity int) error {
	if quantity <= 0 {
		return s.RemoveItem(ctx, lineID)
	}
	id := s.identity.Current(ctx)
	ctx = s.logContext(ctx, id)

	if !id.Authenticated() {
		found := false
		items := s.update(func(st *State) {
			for i := range st.Items {
				if st.Items[i].ID == lineID {
					st.Items[i].Quantity = quantity
					found = true
				}
			}
		})
		if !found {
			return nil
		}
		s.persist(ctx, items)
		s.broadcast(ctx, syncbus.ActionUpdate)
		return nil
	}

	s.begin()
	defer s.end()
	cart, err := s.remote.UpdateItem(ctx, id, lineID, quantity)
	if err != nil {
		s.logFailure(ctx, "update cart item failed", err)
		return err
	}
	s.replace(ctx, cart, id)
	s.broadcast(ctx, syncbus.ActionUpdate)
	return nil
}

// ClearCart empties the cart. Signed-in carts are cleared line by line on the
// service and then reloaded; every failed delete is reported.
func (s *Store) ClearCart(ctx context.Context) error {
	id := s.identity.Current(ctx)
	ctx = s.logContext(ctx, id)

	if !id.Authenticated() {
		s.resetLocal(ctx)
		return nil
	}

	s.begin()
	defer s.end()
	var errs error
	for _, item := range s.Items() {
		if item.ID == "" || isLocalID(item.ID) {
			continue
		}
		errs = multierr.Append(errs, s.remote.RemoveItem(ctx, id, item.ID))
	}
	errs = multierr.Append(errs, s.reload(ctx, id))
	if errs != nil {
		s.logFailure(ctx, "clear cart failed", errs)
		return errs
	}
	s.broadcast(ctx, syncbus.ActionClear)
	return nil
}

// MarkCheckoutComplete drops all local state after an order is placed.
func (s *Store) MarkCheckoutComplete(ctx context.Context) {
	s.resetLocal(ctx)
}

// Reset drops local state, e.g. on sign-out.
func (s *Store) Reset(ctx context.Context) {
	s.resetLocal(ctx)
}

// AdoptGuestItems pushes lines collected as a guest into the signed-in cart,
// then reloads. Lines that fail to transfer are reported together.
func (s *Store) AdoptGuestItems(ctx context.Context, guest []LineItem) error {
	id := s.identity.Current(ctx)
	if !id.Authenticated() {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "sign in before adopting guest items")
	}
	ctx = s.logContext(ctx, id)
	s.begin()
	defer s.end()

	var errs error
	for _, item := range guest {
		_, err := s.remote.AddItem(ctx, id, remote.AddItemRequest{
			ProductID:     item.ProductID,
			Quantity:      item.Quantity,
			VariantID:     item.VariantID,
			PriceSnapshot: item.PriceSnapshot,
		})
		errs = multierr.Append(errs, err)
	}
	errs = multierr.Append(errs, s.reload(ctx, id))
	if errs != nil {
		s.logFailure(ctx, "adopt guest cart failed", errs)
		return errs
	}
	s.broadcast(ctx, syncbus.ActionUpdate)
	return nil
}

// Toggle flips drawer visibility.
func (s *Store) Toggle() {
	s.update(func(st *State) { st.IsOpen = !st.IsOpen })
}

func (s *Store) Open() {
	s.update(func(st *State) { st.IsOpen = true })
}

func (s *Store) Close() {
	s.update(func(st *State) { st.IsOpen = false })
}

// ApplyRemote is the syncbus handler for cart envelopes from other instances.
// It writes state directly without calling the service.
func (s *Store) ApplyRemote(ctx context.Context, env syncbus.Envelope) error {
	if env.Action == syncbus.ActionClear {
		items := s.update(func(st *State) {
			st.Items = []LineItem{}
			st.ServerTotal = nil
		})
		s.persist(ctx, items)
		return nil
	}
	var body payload
	if err := env.DecodePayload(&body); err != nil {
		return err
	}
	if body.Items == nil {
		body.Items = []LineItem{}
	}
	items := s.update(func(st *State) {
		st.Items = body.Items
		st.ServerTotal = body.Total
	})
	s.persist(ctx, items)
	return nil
}

// ListenStorage copies items from snapshot writes made by other instances
// sharing the same storage. Writes made by this store are skipped. Only items
// are copied; nothing is written back or broadcast. It blocks until ctx is done.
func (s *Store) ListenStorage(ctx context.Context, watcher persist.Watcher) error {
	changes, err := watcher.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watch cart storage: %w", err)
	}
	for change := range changes {
		if change.Key != s.snapshot.Key() {
			continue
		}
		if change.Deleted {
			s.update(func(st *State) { st.Items = []LineItem{} })
			continue
		}
		if s.snapshot.WrittenBySelf(change.Value) {
			continue
		}
		items, err := s.snapshot.Decode(change.Value)
		if err != nil {
			s.logg.WarnErr(ctx, "ignoring unreadable cart snapshot", err)
			continue
		}
		s.update(func(st *State) { st.Items = items })
	}
	return ctx.Err()
}

// ShouldShowRecoveryNotice reports whether the "items waiting in your cart"
// reminder may be shown now, recording the time when it may.
func (s *Store) ShouldShowRecoveryNotice(ctx context.Context) (bool, error) {
	if s.ItemCount() == 0 {
		return false, nil
	}
	now := s.now()
	raw, err := s.storage.Get(ctx, s.recoveryKey)
	switch {
	case errors.Is(err, persist.ErrNotFound):
	case err != nil:
		return false, fmt.Errorf("read recovery notice marker: %w", err)
	default:
		if last, perr := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64); perr == nil {
			if now.Sub(time.UnixMilli(last)) < s.cooldown {
				return false, nil
			}
		}
	}
	if err := s.storage.Set(ctx, s.recoveryKey, []byte(strconv.FormatInt(now.UnixMilli(), 10)), 0); err != nil {
		return false, fmt.Errorf("write recovery notice marker: %w", err)
	}
	return true, nil
}

func (s *Store) reload(ctx context.Context, id identity.Context) error {
	cart, err := s.remote.GetCart(ctx, id)
	if err != nil {
		s.logFailure(ctx, "reload cart failed", err)
		return err
	}
	s.replace(ctx, cart, id)
	return nil
}

func (s *Store) replace(ctx context.Context, cart remote.Cart, id identity.Context) {
	next := itemsFromRemote(cart.Items)
	items := s.update(func(st *State) {
		st.Items = next
		st.ServerTotal = cart.Total
		if cart.SessionID != "" {
			st.SessionID = cart.SessionID
		} else if id.SessionID != "" {
			st.SessionID = id.SessionID
		}
	})
	s.persist(ctx, items)
}

// resetLocal stores an empty snapshot rather than deleting the key, so storage
// listeners can tell this store's clear apart from one made elsewhere.
func (s *Store) resetLocal(ctx context.Context) {
	items := s.update(func(st *State) {
		st.Items = []LineItem{}
		st.ServerTotal = nil
	})
	s.persist(ctx, items)
	s.broadcast(ctx, syncbus.ActionClear)
}

// update mutates state under the lock, notifies listeners and returns the
// resulting items.
func (s *Store) update(fn func(*State)) []LineItem {
	s.mu.Lock()
	fn(&s.state)
	snap := s.copyLocked()
	listeners := s.listenersLocked()
	s.mu.Unlock()
	for _, l := range listeners {
		l(snap)
	}
	return snap.Items
}

func (s *Store) begin() {
	s.update(func(*State) { s.inflight++ })
}

func (s *Store) end() {
	s.update(func(*State) {
		if s.inflight > 0 {
			s.inflight--
		}
	})
}

func (s *Store) copyLocked() State {
	st := s.state
	st.Items = cloneItems(s.state.Items)
	st.IsLoading = s.inflight > 0
	return st
}

func (s *Store) listenersLocked() []Listener {
	out := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		out = append(out, l)
	}
	return out
}

func (s *Store) persist(ctx context.Context, items []LineItem) {
	if err := s.snapshot.Save(ctx, items); err != nil {
		s.logg.Error(ctx, "persist cart snapshot failed", err)
	}
}

func (s *Store) broadcast(ctx context.Context, action syncbus.Action) {
	if s.pub == nil {
		return
	}
	var body any
	if action != syncbus.ActionClear {
		st := s.State()
		body = payload{Items: st.Items, Total: st.ServerTotal}
	}
	if err := s.pub.Publish(ctx, syncbus.DomainCart, action, body); err != nil {
		s.logg.WarnErr(ctx, "broadcast cart change failed", err)
	}
}

func (s *Store) logFailure(ctx context.Context, msg string, err error) {
	if pkgerrors.IsNetwork(err) {
		s.logg.WarnErr(ctx, msg, err)
		return
	}
	s.logg.Error(ctx, msg, err)
}

// logContext roots the request logger at this store's logger before the
// identity adds session and token fields.
func (s *Store) logContext(ctx context.Context, id identity.Context) context.Context {
	ctx = s.logg.WithField(ctx, "authenticated", id.Authenticated())
	return s.identity.LogContext(ctx)
}

func isLocalID(id string) bool {
	return strings.HasPrefix(id, localIDPrefix)
}
