package syncstate

import (
	"encoding/hex"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	// Core Deterministic Encoding sorts map keys and uses the shortest
	// number forms, so equal states always produce equal bytes.
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("syncstate: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("syncstate: CBOR decoder initialization failed: " + err.Error())
	}
}

// Normalize converts v into the generic shape every wire format decodes to:
// maps become map[string]any, slices become []any and every number becomes
// float64.
func Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("normalizing %T: %w", v, err)
	}
	var out any
	if err := decMode.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("normalizing %T: %w", v, err)
	}
	return floats(out), nil
}

// NormalizeMap is Normalize for peer data and snapshots.
func NormalizeMap(m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		nv, err := Normalize(v)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		out[k] = nv
	}
	return out, nil
}

func floats(v any) any {
	switch x := v.(type) {
	case uint64:
		return float64(x)
	case int64:
		return float64(x)
	case float32:
		return float64(x)
	case map[string]any:
		for k, e := range x {
			x[k] = floats(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = floats(e)
		}
		return x
	default:
		return v
	}
}

// Fingerprint hashes the canonical encoding of a normalized mapping.
func Fingerprint(m map[string]any) (string, error) {
	if m == nil {
		m = map[string]any{}
	}
	data, err := encMode.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encoding state: %w", err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
