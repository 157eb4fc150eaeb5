package protocol

import (
	"errors"
	"fmt"
)

// Payload is the typed body of an envelope.
type Payload interface {
	Kind() Action
	Validate() error
}

// Envelope is one control message exchanged over a link.
type Envelope struct {
	Action Action
	// Tag is the wire action name. It differs from Action.String() only for
	// custom actions.
	Tag     string
	Local   string
	Remote  string
	Via     string
	Payload Payload
}

// Name returns the wire tag of the envelope.
func (e Envelope) Name() string {
	if e.Tag != "" {
		return e.Tag
	}
	return e.Action.String()
}

// Relayed reports whether the envelope was proxied by another peer.
func (e Envelope) Relayed() bool { return e.Via != "" }

// Init carries local identity and the sender's known peer ids.
type Init struct {
	Account string         `json:"account"`
	Time    int64          `json:"time"`
	Data    map[string]any `json:"data,omitempty"`
	List    []string       `json:"list"`
}

func (Init) Kind() Action { return ActionInit }

func (m Init) Validate() error {
	for _, id := range m.List {
		if id == "" {
			return errors.New("empty peer id in list")
		}
	}
	return nil
}

// Signal is the negotiation data carried by a register envelope.
type Signal struct {
	Type SignalKind `json:"type"`
	SDP  string     `json:"sdp,omitempty"`
}

func (Signal) Kind() Action { return ActionRegister }

func (m Signal) Validate() error {
	switch m.Type {
	case SignalOffer, SignalAnswer:
		return nil
	default:
		return fmt.Errorf("unknown signal type %q", m.Type)
	}
}

type Ping struct {
	Pong        bool `json:"pong,omitempty"`
	Index       int  `json:"index"`
	RemoteSetup bool `json:"remoteSetup,omitempty"`
}

func (Ping) Kind() Action { return ActionPing }

func (m Ping) Validate() error {
	if m.Index < 0 {
		return fmt.Errorf("negative ping index %d", m.Index)
	}
	return nil
}

type Start struct {
	Request  bool           `json:"request,omitempty"`
	Belated  bool           `json:"belated,omitempty"`
	Loop     bool           `json:"loop,omitempty"`
	Sync     string         `json:"sync,omitempty"`
	Snapshot map[string]any `json:"snapshot,omitempty"`
}

func (Start) Kind() Action { return ActionStart }

// Validate rejects a plain start that names no fingerprint to wait for.
func (m Start) Validate() error {
	if !m.Request && !m.Belated && m.Sync == "" {
		return errors.New("start without sync fingerprint")
	}
	return nil
}

type Update struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

func (Update) Kind() Action { return ActionUpdate }

func (m Update) Validate() error {
	if m.Key == "" {
		return errors.New("update without key")
	}
	return nil
}

type Sync struct {
	Key    string `json:"key"`
	Value  any    `json:"value"`
	Action string `json:"action,omitempty"`
}

func (Sync) Kind() Action { return ActionSync }

func (m Sync) Validate() error {
	if m.Key == "" {
		return errors.New("sync without key")
	}
	return nil
}

type Media struct {
	Action string `json:"action"`
	Data   any    `json:"data,omitempty"`
}

func (Media) Kind() Action { return ActionMedia }

func (m Media) Validate() error {
	if m.Action == "" {
		return errors.New("media without action")
	}
	return nil
}

// Message is an application payload handed to the event sink untouched.
type Message struct {
	Data any
}

func (Message) Kind() Action { return ActionMessage }

func (Message) Validate() error { return nil }

// Custom is the payload of an action registered by the application.
type Custom struct {
	Data any
}

func (Custom) Kind() Action { return ActionCustom }

func (Custom) Validate() error { return nil }

// newPayload returns a pointer to the zero payload for a built-in action.
func newPayload(a Action) (Payload, bool) {
	switch a {
	case ActionInit:
		return &Init{}, true
	case ActionRegister:
		return &Signal{}, true
	case ActionPing:
		return &Ping{}, true
	case ActionStart:
		return &Start{}, false
	case ActionUpdate:
		return &Update{}, true
	case ActionSync:
		return &Sync{}, true
	case ActionMedia:
		return &Media{}, true
	default:
		return nil, false
	}
}
