package wire

import "fmt"

// Fixed binary schemas for the session control endpoints. These use
// the same codec configuration as the envelope.

type (
	LoginRequest struct {
		Username string `cbor:"username"`
		Password string `cbor:"password"`
	}
	LoginResponse struct {
		Status                bool `cbor:"status"`
		PasswordResetRequired bool `cbor:"password_reset_required"`
	}
	ResetPasswordRequest struct {
		OldPassword string `cbor:"old_password"`
		NewPassword string `cbor:"new_password"`
	}
	StatusResponse struct {
		Status bool `cbor:"status"`
	}
)

func EncodeMessage[T any](msg *T) ([]byte, error) {
	data, err := encMode.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return data, nil
}

func DecodeMessage[T any](data []byte) (*T, error) {
	var msg T
	if err := decMode.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return &msg, nil
}
