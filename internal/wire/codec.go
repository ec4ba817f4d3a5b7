package wire

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// SizeLimit is the maximum serialized size of a single envelope. The
// bearer transport rejects larger messages, so the encoder refuses to
// produce them.
//
// See https://developers.cloudflare.com/durable-objects/platform/limits/
const SizeLimit = 1 << 20

// ErrMalformedFrame reports an inbound envelope that could not be
// decoded: truncated or invalid CBOR, an unknown discriminator, or a
// payload union with anything other than exactly one variant set.
var ErrMalformedFrame = errors.New("malformed frame")

// SizeLimitError reports an envelope whose serialized form exceeds
// SizeLimit.
type SizeLimitError struct {
	Size int
}

func (e *SizeLimitError) Error() string {
	return fmt.Sprintf("message size %d exceeds limit %d", e.Size, SizeLimit)
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decOpts := cbor.DecOptions{
		// Unknown struct keys are unknown discriminators, not
		// forward-compatible extensions.
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(err)
	}
}

// Decode parses one binary bearer message into an owned Envelope. The
// returned value holds no references to data, so it may cross
// goroutine boundaries freely.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if err := env.validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

// Encode serializes an envelope, enforcing the per-message size limit.
func Encode(env *Envelope) ([]byte, error) {
	if err := env.validate(); err != nil {
		return nil, err
	}
	data, err := encMode.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	if len(data) > SizeLimit {
		return nil, &SizeLimitError{Size: len(data)}
	}
	return data, nil
}

func (env *Envelope) validate() error {
	n := 0
	if env.HTTP != nil {
		if err := env.HTTP.validate(); err != nil {
			return err
		}
		n++
	}
	if env.WS != nil {
		n++
	}
	if env.Control != nil {
		if err := env.Control.validate(); err != nil {
			return err
		}
		n++
	}
	if n != 1 {
		return fmt.Errorf("%w: envelope has %d payloads", ErrMalformedFrame, n)
	}
	return nil
}

func (p *HTTPPayload) validate() error {
	n := 0
	for _, set := range []bool{
		p.RequestInit != nil,
		p.RequestChunk != nil,
		p.RequestEnd != nil,
		p.RequestAbort != nil,
		p.ResponseInit != nil,
		p.ResponseChunk != nil,
		p.ResponseEnd != nil,
	} {
		if set {
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("%w: http payload has %d variants", ErrMalformedFrame, n)
	}
	return nil
}

func (p *ControlPayload) validate() error {
	n := 0
	for _, set := range []bool{
		p.Ping != nil,
		p.Pong != nil,
		p.Error != nil,
		p.GoAway != nil,
		p.FlowWindowUpdate != nil,
	} {
		if set {
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("%w: control payload has %d variants", ErrMalformedFrame, n)
	}
	return nil
}

// NewHTTPEnvelope stamps an HTTP payload with routing metadata and the
// encode-time timestamp.
func NewHTTPEnvelope(connID uint64, streamID, seq uint32, p *HTTPPayload) *Envelope {
	return &Envelope{
		Time:     time.Now().UnixMilli(),
		ConnID:   connID,
		StreamID: streamID,
		Seq:      seq,
		HTTP:     p,
	}
}

// NewWSEnvelope stamps a WebSocket frame with routing metadata and the
// encode-time timestamp.
func NewWSEnvelope(connID uint64, streamID, seq uint32, f *WSFrame) *Envelope {
	return &Envelope{
		Time:     time.Now().UnixMilli(),
		ConnID:   connID,
		StreamID: streamID,
		Seq:      seq,
		WS:       f,
	}
}

// NewControlEnvelope stamps a control payload. Control replies live on
// stream 0 with sequence 0, outside the data-plane ordering.
func NewControlEnvelope(connID uint64, p *ControlPayload) *Envelope {
	return &Envelope{
		Time:    time.Now().UnixMilli(),
		ConnID:  connID,
		Control: p,
	}
}
