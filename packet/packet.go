// Package packet defines DataPacket and ContentPart, the unit exchanged
// between plugins and the Step Executor (spec §3, §4.2).
package packet

// ContentPart is one piece of a multimodal message payload: either text or
// an image reference. The Type discriminates which field is populated.
type ContentPart struct {
	Type string `json:"type"` // "text" or "image"

	// Text holds the rendered text when Type == "text".
	Text string `json:"text,omitempty"`

	// Source holds the image reference (URL, file path, or data URI) when
	// Type == "image". The LLM client is responsible for resolving it into
	// whatever its provider's wire format expects.
	Source string `json:"source,omitempty"`
}

// TextPart builds a text ContentPart.
func TextPart(text string) ContentPart {
	return ContentPart{Type: "text", Text: text}
}

// ImagePart builds an image ContentPart.
func ImagePart(source string) ContentPart {
	return ContentPart{Type: "image", Source: source}
}

// DataPacket is the unit of flow between a plugin and the Step Executor:
// row-mergeable data plus any content parts the plugin contributed to the
// step's accumulated multimodal message.
type DataPacket struct {
	Data         map[string]any `json:"data"`
	ContentParts []ContentPart  `json:"contentParts,omitempty"`
}

// Merge shallow-merges the packet's data into dst. A nil packet data map is
// a no-op, matching the teacher's MergeStepOutput nil-guard idiom.
func Merge(dst map[string]any, p DataPacket) {
	for k, v := range p.Data {
		dst[k] = v
	}
}
