package ads

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mapmarket/backend/internal/models"
)

const (
	maxTitleLen       = 120
	maxDescriptionLen = 5000
	maxAddressLen     = 300
	defaultCurrency   = "EUR"
)

// AdRequest is the body for POST /ads and PATCH /ads/:id.
type AdRequest struct {
	Title       string          `json:"title" binding:"required"`
	Description string          `json:"description"`
	Category    string          `json:"category" binding:"required"`
	PriceCents  int64           `json:"price_cents"`
	Currency    string          `json:"currency"`
	Lat         *float64        `json:"lat" binding:"required"`
	Lng         *float64        `json:"lng" binding:"required"`
	Address     string          `json:"address"`
	Attributes  json.RawMessage `json:"attributes"`
}

// Apply validates the request and copies the normalised listing fields into ad.
func (req *AdRequest) Apply(ad *models.Ad) error {
	title := strings.TrimSpace(req.Title)
	switch {
	case title == "":
		return errors.New("title is required")
	case utf8.RuneCountInString(title) > maxTitleLen:
		return fmt.Errorf("title must be at most %d characters", maxTitleLen)
	case utf8.RuneCountInString(req.Description) > maxDescriptionLen:
		return fmt.Errorf("description must be at most %d characters", maxDescriptionLen)
	case utf8.RuneCountInString(req.Address) > maxAddressLen:
		return fmt.Errorf("address must be at most %d characters", maxAddressLen)
	}

	category := models.Category(strings.ToLower(strings.TrimSpace(req.Category)))
	if !category.Valid() {
		return fmt.Errorf("category must be one of %s, %s, %s", models.CategoryRental, models.CategorySale, models.CategoryClothing)
	}
	if req.PriceCents < 0 {
		return errors.New("price_cents must not be negative")
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	if !isCurrencyCode(currency) {
		return errors.New("currency must be a 3-letter code")
	}
	if req.Lat == nil || req.Lng == nil {
		return errors.New("lat and lng are required")
	}
	if *req.Lat < -90 || *req.Lat > 90 {
		return errors.New("lat must be between -90 and 90")
	}
	if *req.Lng < -180 || *req.Lng > 180 {
		return errors.New("lng must be between -180 and 180")
	}
	attrs, err := ValidateAttributes(category, req.Attributes)
	if err != nil {
		return err
	}

	ad.Title = title
	ad.Description = strings.TrimSpace(req.Description)
	ad.Category = category
	ad.PriceCents = req.PriceCents
	ad.Currency = currency
	ad.Lat = *req.Lat
	ad.Lng = *req.Lng
	ad.Address = strings.TrimSpace(req.Address)
	ad.Attributes = attrs
	return nil
}

func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// ValidateAttributes checks the category-specific attribute object and
// returns it compacted. Unknown keys are kept.
func ValidateAttributes(category models.Category, raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage(`{}`), nil
	}
	var attrs map[string]any
	if err := json.Unmarshal(trimmed, &attrs); err != nil || attrs == nil {
		return nil, errors.New("attributes must be a JSON object")
	}

	switch category {
	case models.CategoryRental:
		if err := nonNegativeNumber(attrs, "rooms"); err != nil {
			return nil, err
		}
		if err := nonNegativeNumber(attrs, "area_m2"); err != nil {
			return nil, err
		}
	case models.CategoryClothing:
		if v, ok := attrs["size"]; ok {
			s, isString := v.(string)
			if !isString || strings.TrimSpace(s) == "" {
				return nil, errors.New("attributes.size must be a non-empty string")
			}
		}
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return nil, errors.New("attributes must be a JSON object")
	}
	return buf.Bytes(), nil
}

func nonNegativeNumber(attrs map[string]any, key string) error {
	v, ok := attrs[key]
	if !ok {
		return nil
	}
	n, isNumber := v.(float64)
	if !isNumber || n < 0 {
		return fmt.Errorf("attributes.%s must be a non-negative number", key)
	}
	return nil
}
