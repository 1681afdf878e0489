// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the shared encoder configuration: Core Deterministic
// Encoding (RFC 8949 §4.2), so the same stage results always produce
// the same history blob bytes.
var encMode = func() cbor.EncMode {
	mode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: building CBOR encode mode: " + err.Error())
	}
	return mode
}()

// decMode is the shared decoder configuration. Unknown fields are
// ignored, so newer gantry builds can read blobs written by older ones
// and vice versa.
var decMode = func() cbor.DecMode {
	mode, err := cbor.DecOptions{
		// When decoding into an any-typed target the decoder has to
		// pick a concrete map type, and the CBOR default is
		// map[interface{}]interface{} because CBOR permits non-string
		// keys. Gantry's records only ever use string keys, and
		// map[string]any is what encoding/json interoperation expects.
		// Struct targets are unaffected.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: building CBOR decode mode: " + err.Error())
	}
	return mode
}()

// Marshal encodes v deterministically: sorted map keys, smallest
// integer widths, no indefinite-length items.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Encoder streams CBOR values to a writer. Aliased so callers depend
// on lib/codec rather than on fxamacker/cbor directly.
type Encoder = cbor.Encoder

// Decoder streams CBOR values from a reader.
type Decoder = cbor.Decoder

// NewEncoder returns an Encoder writing to w with the deterministic
// configuration.
func NewEncoder(w io.Writer) *Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return decMode.NewDecoder(r)
}
