package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/cartsync/internal/persist"
	"github.com/angelmondragon/cartsync/internal/syncbus"
	"github.com/angelmondragon/cartsync/pkg/auth"
	"github.com/angelmondragon/cartsync/pkg/logger"
	"github.com/google/uuid"
)

const (
	DefaultSessionKey = "cart-session-id"
	DefaultDeviceKey  = "device-id"
)

// Context is the identity attached to every remote call: a bearer token for
// signed-in shoppers or an anonymous session id for guests.
type Context struct {
	Token     string
	SessionID string
}

// Authenticated reports whether a token is present.
func (c Context) Authenticated() bool {
	return strings.TrimSpace(c.Token) != ""
}

// Observer is notified after the token changes.
type Observer func(ctx context.Context, current Context)

// ProviderParams configure a Provider.
type ProviderParams struct {
	Store      persist.Store
	Publisher  syncbus.Publisher
	Logger     *logger.Logger
	Token      string
	SessionKey string
	DeviceKey  string
}

// Provider owns the current identity context for one instance.
type Provider struct {
	store      persist.Store
	pub        syncbus.Publisher
	logg       *logger.Logger
	sessionKey string
	deviceKey  string

	mu        sync.Mutex
	token     string
	sessionID string
	deviceID  string
	observers []Observer
}

type authPayload struct {
	Token string `json:"token"`
}

func NewProvider(params ProviderParams) (*Provider, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	sessionKey := params.SessionKey
	if sessionKey == "" {
		sessionKey = DefaultSessionKey
	}
	deviceKey := params.DeviceKey
	if deviceKey == "" {
		deviceKey = DefaultDeviceKey
	}
	return &Provider{
		store:      params.Store,
		pub:        params.Publisher,
		logg:       logg,
		sessionKey: sessionKey,
		deviceKey:  deviceKey,
		token:      strings.TrimSpace(params.Token),
	}, nil
}

// Current returns the identity without creating a session.
func (p *Provider) Current(ctx context.Context) Context {
	p.mu.Lock()
	token, session := p.token, p.sessionID
	p.mu.Unlock()
	if session != "" {
		return Context{Token: token, SessionID: session}
	}

	stored, err := p.loadKey(ctx, p.sessionKey)
	if err != nil {
		p.logg.WarnErr(ctx, "read session id", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessionID == "" {
		p.sessionID = stored
	}
	return Context{Token: p.token, SessionID: p.sessionID}
}

// EnsureSession returns the persisted session id, creating it on first use.
// A signed-in shopper never gets one created.
func (p *Provider) EnsureSession(ctx context.Context) (Context, error) {
	current := p.Current(ctx)
	if current.Authenticated() || current.SessionID != "" {
		return current, nil
	}
	id, err := p.ensureKey(ctx, p.sessionKey)
	if err != nil {
		return current, fmt.Errorf("create session id: %w", err)
	}
	p.mu.Lock()
	p.sessionID = id
	current = Context{Token: p.token, SessionID: id}
	p.mu.Unlock()

	p.logg.Info(p.logg.WithSessionID(ctx, id), "guest session created")
	return current, nil
}

// DeviceID returns the id for this device, creating it once.
func (p *Provider) DeviceID(ctx context.Context) (string, error) {
	p.mu.Lock()
	cached := p.deviceID
	p.mu.Unlock()
	if cached != "" {
		return cached, nil
	}
	id, err := p.ensureKey(ctx, p.deviceKey)
	if err != nil {
		return "", fmt.Errorf("create device id: %w", err)
	}
	p.mu.Lock()
	p.deviceID = id
	p.mu.Unlock()
	return id, nil
}

// Subscribe registers an observer for token changes.
func (p *Provider) Subscribe(fn Observer) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	p.observers = append(p.observers, fn)
	p.mu.Unlock()
}

// SetToken signs the shopper in and tells other instances.
func (p *Provider) SetToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return p.ClearToken(ctx)
	}
	if !p.swapToken(ctx, token) {
		return nil
	}
	return p.publish(ctx, syncbus.ActionUpdate, authPayload{Token: token})
}

// ClearToken signs the shopper out and tells other instances.
func (p *Provider) ClearToken(ctx context.Context) error {
	if !p.swapToken(ctx, "") {
		return nil
	}
	return p.publish(ctx, syncbus.ActionClear, nil)
}

// Apply handles auth envelopes from other instances without rebroadcasting.
func (p *Provider) Apply(ctx context.Context, env syncbus.Envelope) error {
	if env.Action == syncbus.ActionClear {
		p.swapToken(ctx, "")
		return nil
	}
	var payload authPayload
	if err := env.DecodePayload(&payload); err != nil {
		return err
	}
	p.swapToken(ctx, strings.TrimSpace(payload.Token))
	return nil
}

// Claims reads the current token without verifying it.
func (p *Provider) Claims() (*auth.AccessTokenClaims, error) {
	p.mu.Lock()
	token := p.token
	p.mu.Unlock()
	if token == "" {
		return nil, nil
	}
	return auth.ParseUnverified(token)
}

// LogContext attaches the user or session to ctx for structured logs.
func (p *Provider) LogContext(ctx context.Context) context.Context {
	current := p.Current(ctx)
	if current.SessionID != "" {
		ctx = p.logg.WithSessionID(ctx, current.SessionID)
	}
	claims, err := p.Claims()
	if err != nil || claims == nil {
		return ctx
	}
	if id := claims.SubjectID(); id != "" {
		ctx = p.logg.WithUserID(ctx, id)
	}
	if auth.Expired(claims, time.Now()) {
		ctx = p.logg.WithField(ctx, "token_expired", true)
	}
	return ctx
}

func (p *Provider) swapToken(ctx context.Context, token string) bool {
	p.mu.Lock()
	if p.token == token {
		p.mu.Unlock()
		return false
	}
	p.token = token
	current := Context{Token: token, SessionID: p.sessionID}
	observers := append([]Observer(nil), p.observers...)
	p.mu.Unlock()

	for _, fn := range observers {
		fn(ctx, current)
	}
	return true
}

func (p *Provider) publish(ctx context.Context, action syncbus.Action, payload any) error {
	if p.pub == nil {
		return nil
	}
	return p.pub.Publish(ctx, syncbus.DomainAuth, action, payload)
}

func (p *Provider) loadKey(ctx context.Context, key string) (string, error) {
	raw, err := p.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, persist.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

func (p *Provider) ensureKey(ctx context.Context, key string) (string, error) {
	existing, err := p.loadKey(ctx, key)
	if err != nil {
		return "", err
	}
	if existing != "" {
		return existing, nil
	}
	id := uuid.NewString()
	if err := p.store.Set(ctx, key, []byte(id), 0); err != nil {
		return "", err
	}
	return id, nil
}
