package domain

// CloneValue deep-copies JSON-shaped values (maps, slices, scalars).
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = CloneValue(e)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, e := range t {
			out[i] = CloneMap(e)
		}
		return out
	default:
		return v
	}
}

// CloneMap deep-copies a JSON-shaped map. A nil map stays nil.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}

// Clone returns a deep copy of the block.
func (b Block) Clone() Block {
	b.Content = CloneMap(b.Content)
	b.Style = CloneMap(b.Style)
	return b
}

// CloneBlocks deep-copies a block list.
func CloneBlocks(blocks []Block) []Block {
	if blocks == nil {
		return nil
	}
	out := make([]Block, len(blocks))
	for i, b := range blocks {
		out[i] = b.Clone()
	}
	return out
}

// Clone returns a deep copy of the stage.
func (s Stage) Clone() Stage {
	s.Config = CloneMap(s.Config)
	return s
}
