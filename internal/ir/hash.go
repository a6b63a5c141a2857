package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainView  = "pivot/view/v1"
	DomainQuery = "pivot/query/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ViewID computes the content-addressed id of a persisted view definition.
// Two definitions that differ only in key order or Unicode normalization
// produce the same id.
func ViewID(dataCube string, definition IRValue) (string, error) {
	obj := IRObject{
		"data_cube":  IRString(dataCube),
		"definition": definition,
		"version":    IRString(ViewVersion),
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("ViewID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainView, canonical), nil
}

// QueryKey computes the cache key of a query expression evaluated against a
// data cube in a timezone.
func QueryKey(dataCube, timezone string, expression IRValue) (string, error) {
	obj := IRObject{
		"data_cube":  IRString(dataCube),
		"expression": expression,
		"timezone":   IRString(timezone),
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("QueryKey: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainQuery, canonical), nil
}

// MustViewID is like ViewID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustViewID(dataCube string, definition IRValue) string {
	id, err := ViewID(dataCube, definition)
	if err != nil {
		panic(err)
	}
	return id
}
