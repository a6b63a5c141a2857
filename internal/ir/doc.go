// Package ir provides the canonical value representation shared by pivot's
// persistence and caching layers.
//
// This package contains value types and canonical serialization only. All
// other internal packages may import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Canonical JSON follows RFC 8785 key ordering (UTF-16 code units)
//   - Strings are NFC normalized before hashing
//   - NaN and infinities are rejected; numbers use the shortest round-trip form
//   - Content-addressed ids are SHA-256 with a versioned domain prefix
package ir
