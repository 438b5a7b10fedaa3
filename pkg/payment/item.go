package payment

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var itemValidator = validator.New(validator.WithRequiredStructEnabled())

// itemPayload is the JSON shape produced by the storefront. Older links carry
// the price under "price"; "priceSol" wins when both are present.
type itemPayload struct {
	ID       string           `json:"id" validate:"required"`
	Title    string           `json:"title" validate:"required"`
	PriceSOL *decimal.Decimal `json:"priceSol"`
	Price    *decimal.Decimal `json:"price"`
}

// ParseItemPayload decodes the item query value into an OrderItem.
// The value may arrive as raw JSON (already unescaped by the HTTP layer) or
// still percent-encoded once more by the storefront.
func ParseItemPayload(raw string) (OrderItem, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return OrderItem{}, fmt.Errorf("%w: empty value", ErrMalformedItemPayload)
	}
	if !strings.HasPrefix(trimmed, "{") {
		unescaped, err := url.PathUnescape(trimmed)
		if err != nil {
			return OrderItem{}, fmt.Errorf("%w: %v", ErrMalformedItemPayload, err)
		}
		trimmed = strings.TrimSpace(unescaped)
	}

	var payload itemPayload
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return OrderItem{}, fmt.Errorf("%w: %v", ErrMalformedItemPayload, err)
	}
	payload.ID = strings.TrimSpace(payload.ID)
	payload.Title = strings.TrimSpace(payload.Title)
	if err := itemValidator.Struct(payload); err != nil {
		return OrderItem{}, fmt.Errorf("%w: %v", ErrMalformedItemPayload, err)
	}

	item := OrderItem{ID: payload.ID, Title: payload.Title}
	switch {
	case payload.PriceSOL != nil:
		item.PriceSOL = *payload.PriceSOL
	case payload.Price != nil:
		item.PriceSOL = *payload.Price
	}
	return item, nil
}

// EncodeItemPayload renders an item the way the storefront places it in a link.
func EncodeItemPayload(item OrderItem) (string, error) {
	raw, err := json.Marshal(item)
	if err != nil {
		return "", err
	}
	return url.PathEscape(string(raw)), nil
}
