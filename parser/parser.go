// Package parser normalises raw field text into typed record values.
package parser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-scrape-pages/models"
)

// ErrEmpty is returned by transforms when the input holds no usable text.
var ErrEmpty = errors.New("parser: empty value")

// Transform converts the raw text of a field into its record value.
type Transform func(raw string) (any, error)

var transforms = map[string]Transform{
	"":             Trim,
	"trim":         Trim,
	"price":        Price,
	"rating":       Rating,
	"int":          Int,
	"availability": Availability,
}

// Lookup returns the transform registered under name.
func Lookup(name string) (Transform, error) {
	t, ok := transforms[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown transform %q", name)
	}
	return t, nil
}

// Trim returns the text with surrounding whitespace removed.
func Trim(raw string) (any, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, ErrEmpty
	}
	return s, nil
}

// NormalizePrice removes the currency symbol and surrounding whitespace.
func NormalizePrice(price string) string {
	price = strings.TrimSpace(price)
	price = strings.ReplaceAll(price, "Â£", "")
	price = strings.ReplaceAll(price, "£", "")
	price = strings.ReplaceAll(price, "$", "")
	price = strings.ReplaceAll(price, "€", "")
	return strings.TrimSpace(price)
}

// Price parses a currency amount such as "£51.77" into a float64.
func Price(raw string) (any, error) {
	s := NormalizePrice(raw)
	if s == "" {
		return nil, ErrEmpty
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("parse price %q: %w", raw, err)
	}
	return v, nil
}

// NormalizeAvailability trims spacing from the availability text.
func NormalizeAvailability(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Availability collapses internal whitespace of availability blurbs.
func Availability(raw string) (any, error) {
	s := NormalizeAvailability(raw)
	if s == "" {
		return nil, ErrEmpty
	}
	return s, nil
}

// RatingToNumeric converts the textual rating to a numeric scale.
func RatingToNumeric(rating string) (int, bool) {
	switch strings.TrimSpace(rating) {
	case "Zero":
		return 0, true
	case "One":
		return 1, true
	case "Two":
		return 2, true
	case "Three":
		return 3, true
	case "Four":
		return 4, true
	case "Five":
		return 5, true
	default:
		return 0, false
	}
}

// Rating maps a rating word ("Three") to an int.
func Rating(raw string) (any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrEmpty
	}
	n, ok := RatingToNumeric(raw)
	if !ok {
		return nil, fmt.Errorf("unknown rating %q", raw)
	}
	return n, nil
}

// Int parses a base-10 integer, ignoring surrounding whitespace.
func Int(raw string) (any, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, ErrEmpty
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("parse int %q: %w", raw, err)
	}
	return n, nil
}

// ValidateRecord ensures the required fields carry a value.
func ValidateRecord(r models.Record, required []string) error {
	if r.Len() == 0 {
		return fmt.Errorf("record is empty")
	}
	for _, name := range required {
		v, ok := r.Get(name)
		if !ok {
			return fmt.Errorf("record missing field %q", name)
		}
		if v == nil || strings.TrimSpace(models.FormatValue(v)) == "" {
			return fmt.Errorf("record has empty %q", name)
		}
	}
	return nil
}
