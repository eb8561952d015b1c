package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/angelmondragon/cartsync/internal/persist"
	"github.com/angelmondragon/cartsync/internal/syncbus"
	"github.com/angelmondragon/cartsync/pkg/auth/authtest"
	"github.com/angelmondragon/cartsync/pkg/logger"
	"github.com/stretchr/testify/require"
)

type published struct {
	domain syncbus.Domain
	action syncbus.Action
	token  string
}

type stubPublisher struct {
	calls []published
}

func (s *stubPublisher) Publish(_ context.Context, domain syncbus.Domain, action syncbus.Action, payload any) error {
	call := published{domain: domain, action: action}
	if p, ok := payload.(authPayload); ok {
		call.token = p.Token
	}
	s.calls = append(s.calls, call)
	return nil
}

func TestEnsureSessionIsLazyAndPersisted(t *testing.T) {
	ctx := context.Background()
	store := persist.NewMemoryStore()
	p, err := NewProvider(ProviderParams{Store: store})
	require.NoError(t, err)

	require.Empty(t, p.Current(ctx).SessionID)
	_, err = store.Get(ctx, DefaultSessionKey)
	require.ErrorIs(t, err, persist.ErrNotFound)

	first, err := p.EnsureSession(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, first.SessionID)
	require.False(t, first.Authenticated())

	again, err := p.EnsureSession(ctx)
	require.NoError(t, err)
	require.Equal(t, first.SessionID, again.SessionID)

	// a new instance on the same profile reuses it
	other, err := NewProvider(ProviderParams{Store: store})
	require.NoError(t, err)
	require.Equal(t, first.SessionID, other.Current(ctx).SessionID)
}

func TestEnsureSessionSkipsSignedInShopper(t *testing.T) {
	ctx := context.Background()
	store := persist.NewMemoryStore()
	p, err := NewProvider(ProviderParams{Store: store, Token: "tok"})
	require.NoError(t, err)

	current, err := p.EnsureSession(ctx)
	require.NoError(t, err)
	require.True(t, current.Authenticated())
	require.Empty(t, current.SessionID)
}

func TestDeviceIDCreatedOnce(t *testing.T) {
	ctx := context.Background()
	store := persist.NewMemoryStore()
	p, err := NewProvider(ProviderParams{Store: store})
	require.NoError(t, err)

	id, err := p.DeviceID(ctx)
	require.NoError(t, err)
	again, err := p.DeviceID(ctx)
	require.NoError(t, err)
	require.Equal(t, id, again)

	raw, err := store.Get(ctx, DefaultDeviceKey)
	require.NoError(t, err)
	require.Equal(t, id, string(raw))
}

func TestTokenChangesNotifyAndBroadcast(t *testing.T) {
	ctx := context.Background()
	pub := &stubPublisher{}
	p, err := NewProvider(ProviderParams{Store: persist.NewMemoryStore(), Publisher: pub})
	require.NoError(t, err)

	var seen []bool
	p.Subscribe(func(_ context.Context, c Context) { seen = append(seen, c.Authenticated()) })

	require.NoError(t, p.SetToken(ctx, "tok-1"))
	require.NoError(t, p.SetToken(ctx, "tok-1"))
	require.NoError(t, p.ClearToken(ctx))

	require.Equal(t, []bool{true, false}, seen)
	require.Equal(t, []published{
		{domain: syncbus.DomainAuth, action: syncbus.ActionUpdate, token: "tok-1"},
		{domain: syncbus.DomainAuth, action: syncbus.ActionClear},
	}, pub.calls)
}

func TestApplyDoesNotRebroadcast(t *testing.T) {
	ctx := context.Background()
	pub := &stubPublisher{}
	p, err := NewProvider(ProviderParams{Store: persist.NewMemoryStore(), Publisher: pub})
	require.NoError(t, err)

	require.NoError(t, p.Apply(ctx, syncbus.Envelope{
		Domain:  syncbus.DomainAuth,
		Action:  syncbus.ActionUpdate,
		Payload: []byte(`{"token":"remote"}`),
	}))
	require.Equal(t, "remote", p.Current(ctx).Token)

	require.NoError(t, p.Apply(ctx, syncbus.Envelope{Domain: syncbus.DomainAuth, Action: syncbus.ActionClear}))
	require.False(t, p.Current(ctx).Authenticated())
	require.Empty(t, pub.calls)
}

func TestClaimsReadsSubject(t *testing.T) {
	now := time.Now()
	token, err := authtest.MintAccessToken("secret", "storefront", time.Hour, now, authtest.Payload{UserID: "user-7"})
	require.NoError(t, err)

	p, err := NewProvider(ProviderParams{Store: persist.NewMemoryStore(), Token: token})
	require.NoError(t, err)
	claims, err := p.Claims()
	require.NoError(t, err)
	require.Equal(t, "user-7", claims.SubjectID())

	anon, err := NewProvider(ProviderParams{Store: persist.NewMemoryStore()})
	require.NoError(t, err)
	claims, err = anon.Claims()
	require.NoError(t, err)
	require.Nil(t, claims)
	require.NotNil(t, anon.LogContext(context.Background()))
}

func TestLogContextCarriesUserAndExpiry(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "test", Output: &buf})
	token, err := authtest.MintAccessToken("secret", "storefront", time.Minute, time.Now().Add(-time.Hour), authtest.Payload{UserID: "user-9"})
	require.NoError(t, err)

	p, err := NewProvider(ProviderParams{Store: persist.NewMemoryStore(), Token: token, Logger: logg})
	require.NoError(t, err)
	logg.Info(p.LogContext(context.Background()), "checking identity")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "user-9", entry["user_id"])
	require.Equal(t, true, entry["token_expired"])
}
