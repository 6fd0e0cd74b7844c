package row

// DedupeFirstOccurrence returns the subset of rows whose value at keyField
// has not been seen before, preserving first-occurrence order. It is the
// pure algorithm behind the dedupe plugin (plugin.Dedupe); kept here,
// alongside Row/Stream, so it can be unit-tested against the spec's
// dedupe-property invariant (§8) without spinning up the plugin contract.
func DedupeFirstOccurrence(rows Stream, keyField string, seen map[string]struct{}) Stream {
	if seen == nil {
		seen = make(map[string]struct{})
	}
	out := make(Stream, 0, len(rows))
	for _, r := range rows {
		key := stringify(r.Get(keyField))
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return "\x00nil"
	case string:
		return t
	default:
		return toJSONString(t)
	}
}
