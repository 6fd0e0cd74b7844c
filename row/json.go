package row

import "encoding/json"

// toJSONString renders an arbitrary JSON-compatible value to a canonical
// string for use as a dedupe map key. Falls back to a type tag if the value
// cannot be marshalled (should not happen for well-formed row data).
func toJSONString(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "\x00unmarshalable"
	}
	return string(b)
}
