package protocol

// Action is the closed set of built-in envelope kinds. Any wire tag outside
// the set decodes to ActionCustom and keeps its tag on the envelope.
type Action uint8

const (
	ActionUnknown Action = iota
	ActionInit
	ActionRegister
	ActionPing
	ActionStart
	ActionUpdate
	ActionSync
	ActionMessage
	ActionMedia
	ActionCustom
)

func (a Action) String() string {
	switch a {
	case ActionInit:
		return "init"
	case ActionRegister:
		return "register"
	case ActionPing:
		return "ping"
	case ActionStart:
		return "start"
	case ActionUpdate:
		return "update"
	case ActionSync:
		return "sync"
	case ActionMessage:
		return "message"
	case ActionMedia:
		return "media"
	case ActionCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// Builtin reports whether a is one of the protocol's own actions.
func (a Action) Builtin() bool {
	return a > ActionUnknown && a < ActionCustom
}

// ParseAction maps a wire tag to its Action. Empty tags are ActionUnknown.
func ParseAction(tag string) Action {
	switch tag {
	case "":
		return ActionUnknown
	case "init":
		return ActionInit
	case "register":
		return ActionRegister
	case "ping":
		return ActionPing
	case "start":
		return ActionStart
	case "update":
		return ActionUpdate
	case "sync":
		return ActionSync
	case "message":
		return ActionMessage
	case "media":
		return ActionMedia
	default:
		return ActionCustom
	}
}

type SignalKind string

const (
	SignalOffer  SignalKind = "offer"
	SignalAnswer SignalKind = "answer"
)

// Structured sync operations understood by every peer.
const (
	SyncInsert = "insert"
	SyncRemove = "remove"
	SyncMove   = "move"
)
