package protocol

import (
	"errors"
	"fmt"
)

// ErrMalformed is returned for any input that does not decode into a valid
// envelope. Callers drop such messages.
var ErrMalformed = errors.New("malformed envelope")

type wireEnvelope struct {
	Action string `json:"action"`
	Data   any    `json:"data,omitempty"`
	Local  string `json:"local"`
	Remote string `json:"remote,omitempty"`
	Via    string `json:"via,omitempty"`
}

type Codec struct {
	format Format
}

func NewCodec(format Format) *Codec {
	if format == nil {
		format = JSON()
	}
	return &Codec{format: format}
}

func (c *Codec) Format() Format {
	return c.format
}

func (c *Codec) Encode(env Envelope) ([]byte, error) {
	tag := env.Name()
	if ParseAction(tag) == ActionUnknown {
		return nil, errors.New("envelope without action")
	}
	if env.Local == "" {
		return nil, errors.New("envelope without local peer")
	}

	w := wireEnvelope{
		Action: tag,
		Local:  env.Local,
		Remote: env.Remote,
		Via:    env.Via,
	}
	switch p := env.Payload.(type) {
	case nil:
	case Message:
		w.Data = p.Data
	case Custom:
		w.Data = p.Data
	default:
		w.Data = p
	}

	data, err := c.format.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", tag, err)
	}
	return data, nil
}

func (c *Codec) Decode(data []byte) (Envelope, error) {
	var w wireEnvelope
	if err := c.format.Unmarshal(data, &w); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if w.Local == "" {
		return Envelope{}, fmt.Errorf("%w: missing local peer", ErrMalformed)
	}

	action := ParseAction(w.Action)
	env := Envelope{
		Action: action,
		Tag:    w.Action,
		Local:  w.Local,
		Remote: w.Remote,
		Via:    w.Via,
	}

	switch action {
	case ActionUnknown:
		return Envelope{}, fmt.Errorf("%w: missing action", ErrMalformed)
	case ActionMessage:
		env.Payload = Message{Data: w.Data}
		return env, nil
	case ActionCustom:
		env.Payload = Custom{Data: w.Data}
		return env, nil
	case ActionRegister:
		if w.Remote == "" {
			return Envelope{}, fmt.Errorf("%w: register without remote", ErrMalformed)
		}
	}

	payload, required := newPayload(action)
	if w.Data == nil {
		if required {
			return Envelope{}, fmt.Errorf("%w: %s without data", ErrMalformed, w.Action)
		}
	} else {
		raw, err := c.format.Marshal(w.Data)
		if err != nil {
			return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if err := c.format.Unmarshal(raw, payload); err != nil {
			return Envelope{}, fmt.Errorf("%w: %s data: %v", ErrMalformed, w.Action, err)
		}
	}
	if err := payload.Validate(); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	env.Payload = deref(payload)
	return env, nil
}

func deref(p Payload) Payload {
	switch v := p.(type) {
	case *Init:
		return *v
	case *Signal:
		return *v
	case *Ping:
		return *v
	case *Start:
		return *v
	case *Update:
		return *v
	case *Sync:
		return *v
	case *Media:
		return *v
	default:
		return p
	}
}
