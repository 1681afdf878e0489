// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides gantry's standard CBOR encoding configuration.
//
// Gantry uses two serialization formats with a clear boundary:
//
//   - JSON for external interfaces: pipeline definitions, CLI --json
//     output, and the line-per-event result log.
//   - CBOR for internal persistence: the history store's stage-detail
//     blobs.
//
// This package provides the shared CBOR encoding and decoding modes so
// that every gantry package encodes identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes, so re-encoding an unchanged record never dirties storage.
//
// For buffer-oriented operations:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations:
//
//	encoder := codec.NewEncoder(w)
//	decoder := codec.NewDecoder(r)
//
// Types serialized here carry `json` struct tags: fxamacker/cbor v2
// reads json tags as fallback when cbor tags are absent, so the same
// tag controls field naming and omitempty for both formats. This keeps
// the result types in lib/schema usable for CLI JSON output and the
// history blob alike.
package codec
