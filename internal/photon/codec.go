package photon

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// envelope is the wire frame pushed by the in-game relay: an opcode
// plus the raw integer-keyed parameter map.
type envelope struct {
	Code   int         `msgpack:"code"`
	Params map[int]any `msgpack:"params"`
}

// DecodeFrame decodes one msgpack relay frame into a RawEvent stamped
// with the ingestion time.
func DecodeFrame(data []byte, receivedAt time.Time) (RawEvent, error) {
	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return RawEvent{}, fmt.Errorf("decode relay frame: %w", err)
	}
	if env.Params == nil {
		env.Params = make(map[int]any)
	}
	return RawEvent{
		Code:       Code(env.Code),
		Parameters: env.Params,
		ReceivedAt: receivedAt,
	}, nil
}

// EncodeFrame encodes an event back into the relay wire format. Used by
// tests and the loopback tooling.
func EncodeFrame(e RawEvent) ([]byte, error) {
	data, err := msgpack.Marshal(envelope{
		Code:   int(e.Code),
		Params: e.Parameters,
	})
	if err != nil {
		return nil, fmt.Errorf("encode relay frame: %w", err)
	}
	return data, nil
}
