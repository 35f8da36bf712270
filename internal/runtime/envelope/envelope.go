// Package envelope defines the payload representation shared by every
// transport and the envelope shapes exchanged on the wire.
package envelope

import (
	"encoding/json"
	"fmt"

	errspkg "github.com/drblury/hermes/internal/runtime/errors"
	"github.com/drblury/hermes/internal/runtime/jsoncodec"
)

// Payload is the serialized JSON text of a message. Listeners receive the same
// bytes whether the message was dispatched locally or arrived over a
// transport.
type Payload []byte

// Encode serializes v into a Payload. Payload and json.RawMessage values are
// validated and used verbatim; anything else goes through the JSON codec.
func Encode(v any) (Payload, error) {
	switch raw := v.(type) {
	case Payload:
		return checkRaw(raw)
	case json.RawMessage:
		return checkRaw(Payload(raw))
	}
	data, err := jsoncodec.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("hermes: encode payload: %w", err)
	}
	return Payload(data), nil
}

// Parse validates text read from a transport and returns it as a Payload.
func Parse(text []byte) (Payload, error) {
	return checkRaw(Payload(text))
}

func checkRaw(p Payload) (Payload, error) {
	if len(p) == 0 {
		return Payload("null"), nil
	}
	if !jsoncodec.Valid(p) {
		return nil, errspkg.ErrMalformedPayload
	}
	return p, nil
}

// Decode unmarshals the payload into v.
func (p Payload) Decode(v any) error {
	if err := jsoncodec.Unmarshal(p, v); err != nil {
		return fmt.Errorf("%w: %v", errspkg.ErrMalformedPayload, err)
	}
	return nil
}

func (p Payload) String() string {
	return string(p)
}

func (p Payload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return p, nil
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	if p == nil {
		return fmt.Errorf("hermes: UnmarshalJSON on nil Payload")
	}
	*p = append((*p)[0:0], data...)
	return nil
}

// Relay is the envelope exchanged with the relay hub.
type Relay struct {
	Topic   string  `json:"topic"`
	Payload Payload `json:"payload"`
}

// Channel is the envelope posted on the fan-out channel.
type Channel struct {
	Topic string  `json:"topic"`
	Data  Payload `json:"data"`
}

// MarshalRelay encodes a relay envelope.
func MarshalRelay(topic string, payload Payload) ([]byte, error) {
	return jsoncodec.Marshal(Relay{Topic: topic, Payload: payload})
}

// UnmarshalRelay decodes a relay envelope. Envelopes without a topic are
// rejected.
func UnmarshalRelay(data []byte) (Relay, error) {
	var env Relay
	if err := jsoncodec.Unmarshal(data, &env); err != nil {
		return Relay{}, fmt.Errorf("%w: %v", errspkg.ErrMalformedPayload, err)
	}
	if env.Topic == "" {
		return Relay{}, fmt.Errorf("%w: envelope without topic", errspkg.ErrMalformedPayload)
	}
	if len(env.Payload) == 0 {
		env.Payload = Payload("null")
	}
	return env, nil
}

// MarshalChannel encodes a fan-out envelope.
func MarshalChannel(topic string, payload Payload) ([]byte, error) {
	return jsoncodec.Marshal(Channel{Topic: topic, Data: payload})
}

// UnmarshalChannel decodes a fan-out envelope.
func UnmarshalChannel(data []byte) (Channel, error) {
	var env Channel
	if err := jsoncodec.Unmarshal(data, &env); err != nil {
		return Channel{}, fmt.Errorf("%w: %v", errspkg.ErrMalformedPayload, err)
	}
	if env.Topic == "" {
		return Channel{}, fmt.Errorf("%w: envelope without topic", errspkg.ErrMalformedPayload)
	}
	if len(env.Data) == 0 {
		env.Data = Payload("null")
	}
	return env, nil
}
