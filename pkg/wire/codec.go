package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// CLOSE reasons use core deterministic encoding, so equal reasons always
// produce equal bytes.
var closeEncMode = mustMode(cbor.CoreDetEncOptions().EncMode())

// Decoding a peer's CLOSE payload is bounded: a reason is a small flat map.
// Unknown keys are skipped, duplicate keys are rejected.
var closeDecMode = mustMode(cbor.DecOptions{
	DupMapKey:        cbor.DupMapKeyEnforcedAPF,
	IndefLength:      cbor.IndefLengthForbidden,
	MaxNestedLevels:  4,
	MaxArrayElements: 16,
	MaxMapPairs:      16,
}.DecMode())

func mustMode[M any](m M, err error) M {
	if err != nil {
		panic(fmt.Sprintf("wire: invalid CBOR mode: %v", err))
	}
	return m
}
