package syncstate

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

var (
	ErrUnknownOperation   = errors.New("unknown sync operation")
	ErrDuplicateOperation = errors.New("sync operation already registered")
)

// Operation computes the new value of key for a structured mutation
// requested by peer local.
type Operation func(st *State, local, key string, value any) (any, error)

const (
	opInsert = "insert"
	opRemove = "remove"
	opMove   = "move"
)

// Flow is the table of structured sync operations.
type Flow struct {
	mu  sync.RWMutex
	ops map[string]Operation
}

// NewFlow returns a table holding the list operations insert, remove and
// move.
func NewFlow() *Flow {
	return &Flow{ops: map[string]Operation{
		opInsert: insert,
		opRemove: remove,
		opMove:   move,
	}}
}

func (f *Flow) Register(name string, op Operation) error {
	if name == "" || op == nil {
		return errors.New("sync operation needs a name and a function")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.ops[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateOperation, name)
	}
	f.ops[name] = op
	return nil
}

// Apply runs the named operation and stores its result under key.
func (f *Flow) Apply(st *State, name, local, key string, value any, external bool) (Change, error) {
	f.mu.RLock()
	op, ok := f.ops[name]
	f.mu.RUnlock()
	if !ok {
		return Change{}, fmt.Errorf("%w: %s", ErrUnknownOperation, name)
	}
	nv, err := op(st, local, key, value)
	if err != nil {
		return Change{}, fmt.Errorf("%s %q: %w", name, key, err)
	}
	return st.Set(key, nv, external)
}

func list(st *State, key string) ([]any, error) {
	v, ok := st.Get(key)
	if !ok || v == nil {
		return nil, nil
	}
	l, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("key %q holds %T, not a list", key, v)
	}
	return append([]any(nil), l...), nil
}

// insert appends value to the list at key.
func insert(st *State, _ string, key string, value any) (any, error) {
	l, err := list(st, key)
	if err != nil {
		return nil, err
	}
	nv, err := Normalize(value)
	if err != nil {
		return nil, err
	}
	return append(l, nv), nil
}

// remove drops the first element equal to value.
func remove(st *State, _ string, key string, value any) (any, error) {
	l, err := list(st, key)
	if err != nil {
		return nil, err
	}
	nv, err := Normalize(value)
	if err != nil {
		return nil, err
	}
	for i, e := range l {
		if reflect.DeepEqual(e, nv) {
			l = append(l[:i], l[i+1:]...)
			break
		}
	}
	if l == nil {
		l = []any{}
	}
	return l, nil
}

// move relocates one element; value is {"from": i, "to": j}.
func move(st *State, _ string, key string, value any) (any, error) {
	l, err := list(st, key)
	if err != nil {
		return nil, err
	}
	nv, err := Normalize(value)
	if err != nil {
		return nil, err
	}
	m, ok := nv.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("move expects {from, to}, got %T", value)
	}
	from, ok1 := m["from"].(float64)
	to, ok2 := m["to"].(float64)
	if !ok1 || !ok2 {
		return nil, errors.New("move expects numeric from and to")
	}
	i, j := int(from), int(to)
	if i < 0 || i >= len(l) || j < 0 || j >= len(l) {
		return nil, fmt.Errorf("move %d -> %d out of range for %d elements", i, j, len(l))
	}

	e := l[i]
	l = append(l[:i], l[i+1:]...)
	l = append(l[:j], append([]any{e}, l[j:]...)...)
	return l, nil
}
