package flow

// DeepMerge returns src merged into dst. Objects are merged key by key,
// recursively; any other value in src, arrays included, replaces the value
// in dst. Neither argument is modified.
func DeepMerge(dst, src any) any {
	d, dok := dst.(map[string]any)
	s, sok := src.(map[string]any)
	if !dok || !sok {
		return deepCopy(src)
	}

	out := make(map[string]any, len(d)+len(s))
	for k, v := range d {
		out[k] = deepCopy(v)
	}
	for k, v := range s {
		if cur, ok := out[k]; ok {
			out[k] = DeepMerge(cur, v)
			continue
		}
		out[k] = deepCopy(v)
	}
	return out
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = deepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	case []byte:
		return append([]byte(nil), t...)
	default:
		return v
	}
}
