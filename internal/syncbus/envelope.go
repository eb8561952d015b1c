package syncbus

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Domain names the slice of state an envelope describes.
type Domain string

const (
	DomainCart        Domain = "cart"
	DomainWishlist    Domain = "wishlist"
	DomainAuth        Domain = "auth"
	DomainPreferences Domain = "preferences"
	DomainHistory     Domain = "history"
)

func (d Domain) Valid() bool {
	switch d {
	case DomainCart, DomainWishlist, DomainAuth, DomainPreferences, DomainHistory:
		return true
	default:
		return false
	}
}

// Action describes what happened to the domain.
type Action string

const (
	ActionUpdate Action = "update"
	ActionClear  Action = "clear"
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
)

func (a Action) Valid() bool {
	switch a {
	case ActionUpdate, ActionClear, ActionAdd, ActionRemove:
		return true
	default:
		return false
	}
}

// Envelope is the message exchanged between instances. Timestamp is unix
// milliseconds taken from the publisher's wall clock.
type Envelope struct {
	Domain    Domain          `json:"domain"`
	Action    Action          `json:"action"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
	OriginID  string          `json:"originId"`
}

// Validate rejects envelopes that cannot be dispatched.
func (e Envelope) Validate() error {
	if !e.Domain.Valid() {
		return fmt.Errorf("unknown domain %q", e.Domain)
	}
	if !e.Action.Valid() {
		return fmt.Errorf("unknown action %q", e.Action)
	}
	if e.OriginID == "" {
		return fmt.Errorf("origin id is required")
	}
	return nil
}

// DecodePayload unmarshals the payload into dst. An empty payload leaves dst untouched.
func (e Envelope) DecodePayload(dst any) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Domain, err)
	}
	return nil
}

// ItemsPayload is the payload carried by cart and wishlist envelopes. Total is
// the service-reported cart total, when there is one.
type ItemsPayload[T any] struct {
	Items []T              `json:"items"`
	Total *decimal.Decimal `json:"total,omitempty"`
}

func encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
