package ads

import (
	"errors"
	"fmt"

	"github.com/sqids/sqids-go"
)

const defaultShareAlphabet = "k3G7QAe51FCsiWrNOYBUwM6XzZvdLT4j9JhyHKg2cVbxfERq0mSoI8lDpunPat"

// ErrInvalidShareCode is returned for codes that do not decode to exactly one sequence number.
var ErrInvalidShareCode = errors.New("invalid share code")

// ShareCodec turns an ad's sequence number into a short public code and back.
type ShareCodec struct {
	sq *sqids.Sqids
}

// NewShareCodec builds a codec. An empty alphabet uses the built-in one.
func NewShareCodec(alphabet string) (*ShareCodec, error) {
	if alphabet == "" {
		alphabet = defaultShareAlphabet
	}
	sq, err := sqids.New(sqids.Options{Alphabet: alphabet, MinLength: 5})
	if err != nil {
		return nil, fmt.Errorf("sqids init: %w", err)
	}
	return &ShareCodec{sq: sq}, nil
}

// Encode returns the share code for seq.
func (c *ShareCodec) Encode(seq int64) (string, error) {
	if seq <= 0 {
		return "", ErrInvalidShareCode
	}
	return c.sq.Encode([]uint64{uint64(seq)})
}

// Decode returns the sequence number behind code. Non-canonical codes are rejected
// so each ad has exactly one public URL.
func (c *ShareCodec) Decode(code string) (int64, error) {
	ids := c.sq.Decode(code)
	if len(ids) != 1 || ids[0] == 0 {
		return 0, ErrInvalidShareCode
	}
	canonical, err := c.sq.Encode(ids)
	if err != nil || canonical != code {
		return 0, ErrInvalidShareCode
	}
	return int64(ids[0]), nil
}

