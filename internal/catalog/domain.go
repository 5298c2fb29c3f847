package catalog

import (
	"strings"

	"github.com/shopspring/decimal"
)

// SizeStock tracks stock for one size label of a product.
type SizeStock struct {
	Label string `json:"label"`
	Stock int    `json:"stock"`
}

// Product owns aggregate and per-size stock. When sizes are present the
// aggregate stock equals the sum of per-size stocks.
type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	SKU       string          `json:"sku"`
	CostPrice decimal.Decimal `json:"costPrice"`
	SalePrice decimal.Decimal `json:"salePrice"`
	Stock     int             `json:"stock"`
	Sizes     []SizeStock     `json:"sizes,omitempty"`
}

// HasSizes reports whether the product tracks per-size stock.
func (p Product) HasSizes() bool {
	return len(p.Sizes) > 0
}

// SizeIndex returns the position of the size label, or -1 when absent.
func (p Product) SizeIndex(label string) int {
	for i, s := range p.Sizes {
		if strings.EqualFold(s.Label, label) {
			return i
		}
	}
	return -1
}

// Available returns the sellable quantity for the given size. Sizeless
// products answer with the aggregate stock.
func (p Product) Available(size string) int {
	if !p.HasSizes() {
		return p.Stock
	}
	if i := p.SizeIndex(size); i >= 0 {
		return p.Sizes[i].Stock
	}
	return 0
}

// InventoryValue is stock multiplied by cost price.
func (p Product) InventoryValue() decimal.Decimal {
	return p.CostPrice.Mul(decimal.NewFromInt(int64(p.Stock)))
}

// CreateProductInput describes a new product.
type CreateProductInput struct {
	Name      string          `json:"name" validate:"required"`
	SKU       string          `json:"sku" validate:"required"`
	CostPrice decimal.Decimal `json:"costPrice"`
	SalePrice decimal.Decimal `json:"salePrice"`
	Stock     int             `json:"stock" validate:"min=0"`
	Sizes     []SizeStock     `json:"sizes,omitempty"`
}

// ReplenishInput describes an inbound stock purchase.
type ReplenishInput struct {
	ProductID string          `json:"productId"`
	Size      string          `json:"size,omitempty"`
	Quantity  int             `json:"quantity" validate:"min=1"`
	UnitCost  decimal.Decimal `json:"unitCost"`
	Method    string          `json:"method,omitempty"`
	Note      string          `json:"note,omitempty"`
}
