// Package protocol defines the bridge's wire envelopes and their JSON codec.
// The envelope set is closed: the decoder returns ErrUnknownType for any tag
// it does not recognise so the dispatch layer can treat it as a recoverable
// protocol error instead of crashing the session.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownType = errors.New("unknown envelope type")
	ErrMissingType = errors.New("envelope has no type field")
)

// Encode marshals an envelope into a single wire frame.
func Encode(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", env.EnvelopeType(), err)
	}
	return data, nil
}

// Decode parses one wire frame into its concrete envelope variant.
func Decode(data []byte) (Envelope, error) {
	var raw RawEnvelope
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	raw.Raw = data

	if raw.Type == "" {
		return nil, ErrMissingType
	}

	var (
		env Envelope
		err error
	)
	switch raw.Type {
	case TypeChat:
		env, err = decodeAs[Chat](raw)
	case TypeCancel:
		env, err = decodeAs[Cancel](raw)
	case TypePing:
		env, err = decodeAs[Ping](raw)
	case TypeToolApproval:
		env, err = decodeAs[ToolApproval](raw)
	case TypeConnected:
		env, err = decodeAs[Connected](raw)
	case TypeDelta:
		env, err = decodeAs[Delta](raw)
	case TypeThinking:
		env, err = decodeAs[Thinking](raw)
	case TypeToolCall:
		env, err = decodeAs[ToolCall](raw)
	case TypeToolResult:
		env, err = decodeAs[ToolResult](raw)
	case TypeDone:
		env, err = decodeAs[Done](raw)
	case TypeError:
		env, err = decodeAs[Error](raw)
	case TypePong:
		env, err = decodeAs[Pong](raw)
	case TypeCancelled:
		env, err = decodeAs[Cancelled](raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, raw.Type)
	}
	if err != nil {
		return nil, err
	}
	return env, nil
}

func decodeAs[T Envelope](raw RawEnvelope) (Envelope, error) {
	var msg T
	if err := json.Unmarshal(raw.Raw, &msg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", raw.Type, err)
	}
	return msg, nil
}
