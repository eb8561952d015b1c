package cart

import (
	"github.com/angelmondragon/cartsync/internal/remote"
	"github.com/angelmondragon/cartsync/internal/syncbus"
	"github.com/shopspring/decimal"
)

// Product is the catalog data a line carries for display and live pricing.
type Product struct {
	ID       string          `json:"id" validate:"required"`
	Name     string          `json:"name,omitempty"`
	Price    decimal.Decimal `json:"price"`
	Discount decimal.Decimal `json:"discount"`
	ImageURL string          `json:"imageUrl,omitempty"`
}

// LineItem is one cart row. ID is empty or "local-" prefixed until the service
// assigns one.
type LineItem struct {
	ID            string           `json:"id,omitempty"`
	ProductID     string           `json:"productId"`
	VariantID     string           `json:"variantId,omitempty"`
	Quantity      int              `json:"quantity"`
	PriceSnapshot *decimal.Decimal `json:"priceSnapshot,omitempty"`
	SelectedColor string           `json:"selectedColor,omitempty"`
	SelectedSize  string           `json:"selectedSize,omitempty"`
	Product       Product          `json:"product"`
}

// UnitPrice is the snapshot price when captured, otherwise the live price with
// any percentage discount applied.
func (l LineItem) UnitPrice() decimal.Decimal {
	if l.PriceSnapshot != nil {
		return *l.PriceSnapshot
	}
	price := l.Product.Price
	if l.Product.Discount.IsPositive() {
		factor := decimal.NewFromInt(1).Sub(l.Product.Discount.Div(decimal.NewFromInt(100)))
		price = price.Mul(factor)
	}
	return price
}

// LineTotal is UnitPrice times quantity.
func (l LineItem) LineTotal() decimal.Decimal {
	return l.UnitPrice().Mul(decimal.NewFromInt(int64(l.Quantity)))
}

func (l LineItem) sameLine(productID, variantID string) bool {
	return l.ProductID == productID && l.VariantID == variantID
}

// State is a point-in-time copy of the cart.
type State struct {
	Items       []LineItem
	ServerTotal *decimal.Decimal
	IsOpen      bool
	IsLoading   bool
	SessionID   string
}

// AddItemInput is the request to add a product.
type AddItemInput struct {
	Product       Product
	Quantity      int `validate:"gte=1"`
	Color         string
	Size          string
	VariantID     string
	PriceSnapshot *decimal.Decimal
}

type payload = syncbus.ItemsPayload[LineItem]

func fromRemote(line remote.CartLine) LineItem {
	item := LineItem{
		ID:            string(line.ID),
		ProductID:     string(line.ProductID),
		VariantID:     string(line.VariantID),
		Quantity:      line.Quantity,
		PriceSnapshot: line.PriceSnapshot,
		SelectedColor: line.SelectedColor,
		SelectedSize:  line.SelectedSize,
		Product:       Product{ID: string(line.ProductID)},
	}
	if line.Product != nil {
		item.Product = Product{
			ID:       string(line.Product.ID),
			Name:     line.Product.Name,
			Price:    line.Product.Price,
			ImageURL: line.Product.ImageURL,
		}
		if item.Product.ID == "" {
			item.Product.ID = item.ProductID
		}
		if line.Product.Discount != nil {
			item.Product.Discount = *line.Product.Discount
		}
	}
	return item
}

func itemsFromRemote(lines []remote.CartLine) []LineItem {
	items := make([]LineItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, fromRemote(line))
	}
	return items
}

func cloneItems(items []LineItem) []LineItem {
	out := make([]LineItem, len(items))
	copy(out, items)
	return out
}
