package entity

import "github.com/bytedance/sonic"

// Node is a decoded JSON value: nil, bool, float64, string, []any, or
// map[string]any — the shapes sonic.Unmarshal produces for an `any` target.
type Node = any

// Parse decodes a raw Wikidata entity JSON object into a Node tree.
// bytedance/sonic is used as a drop-in, faster decoder in place of
// encoding/json; the resulting shapes are identical.
func Parse(raw []byte) (Node, error) {
	var v any
	if err := sonic.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Get walks path (string object keys or int array indices) from n,
// mirroring the original implementation's json_get! macro: any missing
// key, out-of-range index, or wrong-shaped node along the chain yields
// ok=false rather than a panic or error.
func Get(n Node, path ...any) (Node, bool) {
	cur := n
	for _, seg := range path {
		switch key := seg.(type) {
		case string:
			m, ok := cur.(map[string]any)
			if !ok {
				return nil, false
			}
			cur, ok = m[key]
			if !ok {
				return nil, false
			}
		case int:
			a, ok := cur.([]any)
			if !ok || key < 0 || key >= len(a) {
				return nil, false
			}
			cur = a[key]
		default:
			return nil, false
		}
	}
	return cur, true
}

// GetString walks path and type-asserts the leaf as a string.
func GetString(n Node, path ...any) (string, bool) {
	v, ok := Get(n, path...)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetFloat64 walks path and type-asserts the leaf as a number.
func GetFloat64(n Node, path ...any) (float64, bool) {
	v, ok := Get(n, path...)
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// GetObject walks path and type-asserts the leaf as a JSON object.
func GetObject(n Node, path ...any) (map[string]any, bool) {
	v, ok := Get(n, path...)
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return m, ok
}

// GetArray walks path and type-asserts the leaf as a JSON array.
func GetArray(n Node, path ...any) ([]any, bool) {
	v, ok := Get(n, path...)
	if !ok {
		return nil, false
	}
	a, ok := v.([]any)
	return a, ok
}
