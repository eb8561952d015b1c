package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/cartsync/internal/analytics"
	"github.com/angelmondragon/cartsync/internal/cart"
	"github.com/angelmondragon/cartsync/internal/devicesync"
	"github.com/angelmondragon/cartsync/internal/identity"
	"github.com/angelmondragon/cartsync/internal/persist"
	"github.com/angelmondragon/cartsync/internal/remote"
	"github.com/angelmondragon/cartsync/internal/syncbus"
	"github.com/angelmondragon/cartsync/internal/wishlist"
	"github.com/angelmondragon/cartsync/pkg/config"
	"github.com/angelmondragon/cartsync/pkg/db"
	"github.com/angelmondragon/cartsync/pkg/logger"
	"github.com/angelmondragon/cartsync/pkg/metrics"
	"github.com/angelmondragon/cartsync/pkg/migrate"
	"github.com/angelmondragon/cartsync/pkg/pubsub"
	"github.com/angelmondragon/cartsync/pkg/redis"
)

// Preferences and History ride along on the bus so every instance sees the
// latest value.
type (
	Preferences map[string]any
	History     []string
)

type agent struct {
	cfg  *config.Config
	logg *logger.Logger

	storage     persist.Store
	watcher     persist.Watcher
	bus         *syncbus.Bus
	identity    *identity.Provider
	cart        *cart.Store
	wishlist    *wishlist.Store
	monitor     *devicesync.Monitor
	preferences *syncbus.ValueMirror[Preferences]
	history     *syncbus.ValueMirror[History]

	closers []io.Closer
}

func newAgent(ctx context.Context, cfg *config.Config, logg *logger.Logger, reg prometheus.Registerer) (a *agent, err error) {
	a = &agent{cfg: cfg, logg: logg}
	defer func() {
		if err != nil {
			err = multierr.Append(err, a.Close())
			a = nil
		}
	}()

	syncMetrics := metrics.NewSyncMetrics(reg)

	var redisClient *redis.Client
	if cfg.NeedsRedis() {
		redisClient, err = redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			return nil, fmt.Errorf("bootstrap redis: %w", err)
		}
		a.closers = append(a.closers, redisClient)
	}

	var jobs []devicesync.Job
	purge, err := a.openStorage(ctx, redisClient)
	if err != nil {
		return nil, err
	}
	if purge != nil {
		jobs = append(jobs, purge)
	}

	channels, err := a.channels(redisClient)
	if err != nil {
		return nil, err
	}
	a.bus, err = syncbus.NewBus(syncbus.BusParams{
		Channels: channels,
		Logger:   logg,
		Metrics:  syncMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("create sync bus: %w", err)
	}

	a.identity, err = identity.NewProvider(identity.ProviderParams{
		Store:     a.storage,
		Publisher: a.bus,
		Logger:    logg,
		Token:     cfg.Remote.Token,
	})
	if err != nil {
		return nil, fmt.Errorf("create identity provider: %w", err)
	}

	client, err := remote.NewClient(cfg.Remote.BaseURL,
		remote.WithTimeout(cfg.Remote.Timeout),
		remote.WithMetrics(syncMetrics),
	)
	if err != nil {
		return nil, fmt.Errorf("create remote client: %w", err)
	}

	emitter, err := a.analytics(ctx)
	if err != nil {
		return nil, err
	}

	a.cart, err = cart.NewStore(cart.StoreParams{
		Remote:           client,
		Identity:         a.identity,
		Storage:          a.storage,
		Publisher:        a.bus,
		Analytics:        emitter,
		Logger:           logg,
		RecoveryCooldown: cfg.Cart.RecoveryCooldown,
	})
	if err != nil {
		return nil, fmt.Errorf("create cart store: %w", err)
	}
	a.wishlist, err = wishlist.NewStore(wishlist.StoreParams{
		Remote:    client,
		Identity:  a.identity,
		Storage:   a.storage,
		Publisher: a.bus,
		Logger:    logg,
	})
	if err != nil {
		return nil, fmt.Errorf("create wishlist store: %w", err)
	}

	a.preferences = syncbus.NewValueMirror[Preferences](syncbus.DomainPreferences, a.bus)
	a.history = syncbus.NewValueMirror[History](syncbus.DomainHistory, a.bus)

	a.bus.Handle(syncbus.DomainCart, a.cart.ApplyRemote)
	a.bus.Handle(syncbus.DomainWishlist, a.wishlist.ApplyRemote)
	a.bus.Handle(syncbus.DomainAuth, a.identity.Apply)
	a.bus.Handle(syncbus.DomainAuth, a.onAuthEnvelope)
	a.bus.Handle(syncbus.DomainPreferences, a.preferences.Apply)
	a.bus.Handle(syncbus.DomainHistory, a.history.Apply)

	cloudJob, err := devicesync.NewCloudSyncJob(devicesync.NoopCloudSync{})
	if err != nil {
		return nil, err
	}
	jobs = append(jobs, cloudJob)
	if cfg.Sync.ReconcileStores {
		cartJob, err := devicesync.NewReloadJob("cart-reload", a.cart)
		if err != nil {
			return nil, err
		}
		wishlistJob, err := devicesync.NewReloadJob("wishlist-reload", a.wishlist)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, cartJob, wishlistJob)
	}

	a.monitor, err = devicesync.NewMonitor(devicesync.MonitorParams{
		Logger:        logg,
		Prober:        client,
		Registry:      devicesync.NewRegistry(jobs...),
		Metrics:       syncMetrics,
		Interval:      cfg.Sync.DeviceSyncInterval,
		ProbeInterval: cfg.Sync.ProbeInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("create device sync monitor: %w", err)
	}
	return a, nil
}

func (a *agent) openStorage(ctx context.Context, redisClient *redis.Client) (devicesync.Job, error) {
	switch strings.ToLower(a.cfg.Storage.Backend) {
	case config.StorageBackendMemory:
		store := persist.NewMemoryStore()
		a.storage, a.watcher = store, store
		a.closers = append(a.closers, store)
	case config.StorageBackendFile:
		store, err := persist.NewFileStore(filepath.Clean(a.cfg.Storage.Dir))
		if err != nil {
			return nil, fmt.Errorf("open file storage: %w", err)
		}
		a.storage, a.watcher = store, store
		a.closers = append(a.closers, store)
	case config.StorageBackendRedis:
		store, err := persist.NewRedisStore(redisClient)
		if err != nil {
			return nil, fmt.Errorf("open redis storage: %w", err)
		}
		a.storage = store
	case config.StorageBackendDB:
		dbClient, err := db.New(ctx, a.cfg.DB, a.logg)
		if err != nil {
			return nil, fmt.Errorf("bootstrap database: %w", err)
		}
		a.closers = append(a.closers, dbClient)
		if err := migrate.MaybeRun(ctx, a.cfg, a.logg, dbClient); err != nil {
			return nil, fmt.Errorf("run snapshot migrations: %w", err)
		}
		store, err := persist.NewDBStore(dbClient)
		if err != nil {
			return nil, fmt.Errorf("open db storage: %w", err)
		}
		a.storage = store
		return devicesync.NewPurgeJob(store, a.logg)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", a.cfg.Storage.Backend)
	}
	return nil, nil
}

func (a *agent) channels(redisClient *redis.Client) ([]syncbus.Channel, error) {
	var channels []syncbus.Channel
	switch strings.ToLower(a.cfg.Sync.ChannelBackend) {
	case config.ChannelBackendRedis:
		ch, err := syncbus.NewRedisChannel(redisClient, a.cfg.Sync.ChannelName, a.logg)
		if err != nil {
			return nil, fmt.Errorf("create redis channel: %w", err)
		}
		channels = append(channels, ch)
	default:
		hub := syncbus.NewHub()
		a.closers = append(a.closers, hub)
		channels = append(channels, hub)
	}

	if store, ok := a.storage.(interface {
		persist.Store
		persist.Watcher
	}); ok {
		relay, err := syncbus.NewRelay(syncbus.RelayParams{Store: store, TTL: a.cfg.Sync.RelayTTL, Logger: a.logg})
		if err != nil {
			return nil, fmt.Errorf("create storage relay: %w", err)
		}
		channels = append(channels, relay)
	}
	return channels, nil
}

func (a *agent) analytics(ctx context.Context) (analytics.Emitter, error) {
	if !a.cfg.Analytics.Enabled {
		return analytics.NewLogEmitter(a.logg), nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.GCP, a.cfg.Analytics, a.logg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap pubsub: %w", err)
	}
	a.closers = append(a.closers, client)
	emitter, err := analytics.NewPubSubEmitter(client.AnalyticsPublisher(), a.logg)
	if err != nil {
		return nil, fmt.Errorf("create analytics emitter: %w", err)
	}
	return emitter, nil
}

// onAuthEnvelope reloads account state after another instance signs in. A
// sign-out needs nothing here: that instance broadcasts its own cart and
// wishlist clears.
func (a *agent) onAuthEnvelope(ctx context.Context, env syncbus.Envelope) error {
	if env.Action == syncbus.ActionClear {
		return nil
	}
	return multierr.Append(a.cart.Load(ctx), a.wishlist.Load(ctx))
}

// Start restores persisted snapshots and then reconciles with the service.
func (a *agent) Start(ctx context.Context) {
	if err := a.cart.Hydrate(ctx); err != nil {
		a.logg.WarnErr(ctx, "cart snapshot unavailable", err)
	}
	if err := a.wishlist.Hydrate(ctx); err != nil {
		a.logg.WarnErr(ctx, "wishlist snapshot unavailable", err)
	}
	if _, err := a.identity.DeviceID(ctx); err != nil {
		a.logg.WarnErr(ctx, "device id unavailable", err)
	}
	if err := a.cart.Load(ctx); err != nil {
		a.logg.WarnErr(ctx, "initial cart load failed", err)
	}
	if err := a.wishlist.Load(ctx); err != nil {
		a.logg.WarnErr(ctx, "initial wishlist load failed", err)
	}
	if show, err := a.cart.ShouldShowRecoveryNotice(ctx); err == nil && show {
		a.logg.Info(a.logg.WithField(ctx, "item_count", a.cart.ItemCount()), "cart recovered from previous session")
	}
}

// Run blocks until ctx is done.
func (a *agent) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return a.bus.Run(groupCtx) })
	group.Go(func() error { return a.monitor.Run(groupCtx) })
	if a.watcher != nil {
		group.Go(func() error { return a.cart.ListenStorage(groupCtx, a.watcher) })
	}
	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *agent) Close() error {
	var errs error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errs
}
