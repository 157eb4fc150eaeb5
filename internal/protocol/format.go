package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Format is the byte encoding used for envelopes on a link.
type Format interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

const (
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"
)

func JSON() Format { return jsonFormat{} }

// Msgpack returns a compact binary format. It reads the json struct tags so
// both formats share one set of payload definitions.
func Msgpack() Format { return msgpackFormat{} }

func FormatByName(name string) (Format, error) {
	switch name {
	case "", FormatJSON:
		return JSON(), nil
	case FormatMsgpack:
		return Msgpack(), nil
	default:
		return nil, fmt.Errorf("unknown wire format %q", name)
	}
}

type jsonFormat struct{}

func (jsonFormat) Name() string { return FormatJSON }

func (jsonFormat) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonFormat) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type msgpackFormat struct{}

func (msgpackFormat) Name() string { return FormatMsgpack }

func (msgpackFormat) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (msgpackFormat) Unmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}
