package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/Mythli/batchprompter-sub003/packet"
	"github.com/Mythli/batchprompter-sub003/row"
)

// Dedupe drops rows whose value at a configured field has already been
// seen in this pipeline run. Shared state (the seen-set) is scoped to the
// plugin instance, not the whole run or a single row, per the ownership
// rule in the data model: "any shared state... is keyed by plugin instance
// id and scoped to one pipeline run".
type Dedupe struct {
	name     string
	keyField string

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewDedupeFactory returns a Factory that builds Dedupe plugins.
func NewDedupeFactory() Factory {
	return func(name string, config map[string]any) (Plugin, error) {
		keyField, _ := config["keyField"].(string)
		if keyField == "" {
			return nil, fmt.Errorf("plugin %q: dedupe requires a non-empty keyField", name)
		}
		return &Dedupe{name: name, keyField: keyField, seen: make(map[string]struct{})}, nil
	}
}

func (d *Dedupe) Type() string { return "dedupe" }

func (d *Dedupe) ConfigSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"keyField"},
		"properties": map[string]any{
			"keyField": map[string]any{"type": "string"},
		},
	}
}

func (d *Dedupe) RequiredCapabilities() []Capability { return nil }

func (d *Dedupe) ResolveConfig(raw map[string]any, rowData map[string]any, _ map[string]any) (ResolvedConfig, error) {
	return ResolvedConfig{Raw: map[string]any{
		"keyField": d.keyField,
		"value":    rowData[d.keyField],
	}}, nil
}

// Execute returns no packets (drops the row) when the key has been seen
// before, one empty-data packet otherwise. DedupeFirstOccurrence is reused
// directly from the row package so the property it is tested against
// there — first-occurrence order preserved — holds here too.
func (d *Dedupe) Execute(_ context.Context, resolved ResolvedConfig, _ *Services) (Result, error) {
	key := resolved.Raw["value"]

	d.mu.Lock()
	defer d.mu.Unlock()

	rows := row.DedupeFirstOccurrence(row.Stream{row.New("0", map[string]any{"_k": key})}, "_k", d.seen)
	if len(rows) == 0 {
		return Result{}, nil
	}
	return Result{Packets: []packet.DataPacket{{Data: map[string]any{}}}}, nil
}
