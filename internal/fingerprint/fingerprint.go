// Package fingerprint computes the deterministic, order-insensitive content
// hash of a launch Spec used throughout the pool manager as the warm-VM
// cache key.
package fingerprint

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/vmfleet/fleetd/internal/domain"
)

// specPayload mirrors domain.Spec field-for-field. encoding/json marshals
// map keys (Env) in sorted order by default, and the struct's field order
// is fixed regardless of how the caller assembled the Spec, so this alone
// gives us order-insensitivity over the declared shape. canonicalize below
// additionally re-encodes the payload with every mapping's keys sorted
// explicitly at every level, so the hashed bytes do not depend on
// encoding/json's own map ordering.
type specPayload struct {
	KernelPath string            `json:"kernel_path"`
	RootfsPath string            `json:"rootfs_path"`
	Cmd        []string          `json:"cmd"`
	Env        map[string]string `json:"env"`
	VCPU       int               `json:"vcpu"`
	MemMB      int               `json:"mem_mb"`
	Lifecycle  string            `json:"lifecycle"`
	WarmMin    int               `json:"warm_min"`
	WarmMax    int               `json:"warm_max"`
}

// Of returns the uppercase-hex fingerprint of a Spec. Two Specs that differ
// only in field or key insertion order produce the same fingerprint.
func Of(s domain.Spec) string {
	payload := specPayload{
		KernelPath: s.KernelPath,
		RootfsPath: s.RootfsPath,
		Cmd:        append([]string(nil), s.Cmd...),
		Env:        s.Env,
		VCPU:       s.Resources.VCPU,
		MemMB:      s.Resources.MemMB,
		Lifecycle:  string(s.Lifecycle),
	}
	if s.WarmPool != nil {
		payload.WarmMin = s.WarmPool.Min
		payload.WarmMax = s.WarmPool.Max
	}

	canonical, err := json.Marshal(canonicalize(payload))
	if err != nil {
		// Marshaling a plain struct of strings/ints/maps cannot fail; this
		// path exists only to satisfy the type system.
		canonical = []byte(fmt.Sprintf("%+v", payload))
	}

	sum := xxhash.Sum64(canonical)
	return fmt.Sprintf("%016X", sum)
}

// canonicalize walks an arbitrary JSON-shaped value (as produced by
// round-tripping through encoding/json) and returns an equivalent value
// whose maps are rebuilt with sorted keys, so that re-marshaling is
// byte-stable regardless of original key order.
func canonicalize(v interface{}) interface{} {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return v
	}
	return canonicalizeGeneric(generic)
}

func canonicalizeGeneric(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make([]keyedValue, 0, len(keys))
		for _, k := range keys {
			ordered = append(ordered, keyedValue{Key: k, Value: canonicalizeGeneric(val[k])})
		}
		return ordered
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = canonicalizeGeneric(item)
		}
		return out
	default:
		return val
	}
}

// keyedValue forces a stable array encoding for what was a map, since
// encoding/json already sorts map[string]interface{} keys on marshal but
// we want the canonicalization to be explicit and independent of that
// library default.
type keyedValue struct {
	Key   string      `json:"k"`
	Value interface{} `json:"v"`
}
