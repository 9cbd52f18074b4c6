package conversation

// DeepMerge merges update into base and returns base. When both sides hold a
// map under the same key the merge recurses; otherwise the update value wins,
// including a scalar overwriting a map or the reverse. Keys absent from
// update are left untouched; there is no deletion.
func DeepMerge(base, update map[string]any) map[string]any {
	if base == nil {
		base = make(map[string]any, len(update))
	}
	for key, value := range update {
		baseMap, baseIsMap := base[key].(map[string]any)
		updateMap, updateIsMap := value.(map[string]any)
		if baseIsMap && updateIsMap {
			base[key] = DeepMerge(baseMap, updateMap)
			continue
		}
		base[key] = value
	}
	return base
}

// cloneValue deep-copies nested map/slice structures so projections handed to
// callers cannot reach back into the engine's state.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return cloneValue(m).(map[string]any)
}
