package wire

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	// ErrMalformedEnvelope marks input that is not a decodable
	// envelope. The offending message is dropped, the connection
	// survives.
	ErrMalformedEnvelope = errors.New("malformed envelope")
	// ErrSchemaViolation marks an envelope whose payload variant does
	// not match its kind.
	ErrSchemaViolation = errors.New("envelope schema violation")
)

// encMode uses Core Deterministic Encoding (RFC 8949 4.2): equal
// envelopes always produce identical bytes.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic("wire: CBOR encoder initialization failed: " + err.Error())
	}
	if decMode, err = (cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}).DecMode(); err != nil {
		panic("wire: CBOR decoder initialization failed: " + err.Error())
	}
}

// Encode serializes the envelope. The kind/payload agreement is
// checked first, a violating envelope is never put on the wire.
func Encode(env *Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	data, err := encMode.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return data, nil
}

// Decode parses an envelope from data. Undecodable input yields
// ErrMalformedEnvelope, a kind/payload mismatch ErrSchemaViolation.
// Unknown kinds decode fine, the caller is expected to ignore them.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Version == 0 || env.Version > EnvelopeVersion {
		return nil, fmt.Errorf("%w: unsupported version %d",
			ErrMalformedEnvelope, env.Version)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}
