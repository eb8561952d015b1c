package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// ID is a server identifier that may arrive as a JSON string or number.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Product is the catalog data embedded in cart and wishlist rows.
type Product struct {
	ID       ID               `json:"id"`
	Name     string           `json:"name,omitempty"`
	Price    decimal.Decimal  `json:"price"`
	Discount *decimal.Decimal `json:"discount,omitempty"`
	ImageURL string           `json:"image_url,omitempty"`
}

// CartLine is one cart row as returned by the service.
type CartLine struct {
	ID            ID               `json:"id"`
	ProductID     ID               `json:"product_id"`
	VariantID     ID               `json:"variant_id,omitempty"`
	Quantity      int              `json:"quantity"`
	PriceSnapshot *decimal.Decimal `json:"price_snapshot,omitempty"`
	SelectedColor string           `json:"selected_color,omitempty"`
	SelectedSize  string           `json:"selected_size,omitempty"`
	Product       *Product         `json:"product,omitempty"`
}

// Cart is the full cart state.
type Cart struct {
	Items     []CartLine       `json:"items"`
	Total     *decimal.Decimal `json:"total,omitempty"`
	ItemCount int              `json:"itemCount"`
	SessionID string           `json:"sessionId,omitempty"`
}

// AddItemRequest is the body of POST /cart/items.
type AddItemRequest struct {
	ProductID     string           `json:"product_id"`
	Quantity      int              `json:"quantity"`
	VariantID     string           `json:"variant_id,omitempty"`
	PriceSnapshot *decimal.Decimal `json:"price_snapshot,omitempty"`
}

// AddResultKind tells how the service stored an added line.
type AddResultKind int

const (
	// AddResultGuest means nothing was persisted server side; Item holds the line.
	AddResultGuest AddResultKind = iota + 1
	// AddResultPersisted means the line was saved; Cart may be partial.
	AddResultPersisted
)

func (k AddResultKind) String() string {
	switch k {
	case AddResultGuest:
		return "guest"
	case AddResultPersisted:
		return "persisted"
	default:
		return "unknown"
	}
}

// AddResult is the decoded POST /cart/items response.
type AddResult struct {
	Kind AddResultKind
	Item CartLine
	Cart Cart
}

func decodeAddResult(data json.RawMessage) (AddResult, error) {
	var head struct {
		IsGuest bool      `json:"is_guest"`
		Item    *CartLine `json:"item"`
	}
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &head); err != nil {
			return AddResult{}, err
		}
	}
	if head.IsGuest {
		if head.Item == nil {
			return AddResult{}, fmt.Errorf("guest add response missing item")
		}
		return AddResult{Kind: AddResultGuest, Item: *head.Item}, nil
	}
	var cart Cart
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &cart); err != nil {
			return AddResult{}, err
		}
	}
	return AddResult{Kind: AddResultPersisted, Cart: cart}, nil
}

// WishlistEntry is one wishlist row.
type WishlistEntry struct {
	ProductID ID       `json:"product_id"`
	AddedAt   string   `json:"added_at,omitempty"`
	Product   *Product `json:"product,omitempty"`
}

func decodeWishlist(data json.RawMessage) ([]WishlistEntry, error) {
	data = bytes.TrimSpace(data)
	entries := []WishlistEntry{}
	if len(data) == 0 || string(data) == "null" {
		return entries, nil
	}
	if data[0] == '[' {
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, err
		}
		return entries, nil
	}
	var wrapped struct {
		Items []WishlistEntry `json:"items"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Items != nil {
		entries = wrapped.Items
	}
	return entries, nil
}

func decodeCount(data json.RawMessage) (int, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return 0, nil
	}
	if data[0] != '{' {
		return strconv.Atoi(string(data))
	}
	var wrapped struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return 0, err
	}
	return wrapped.Count, nil
}
