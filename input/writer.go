package input

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/Mythli/batchprompter-sub003/row"
)

// Write persists s to path as CSV or JSON, selected by extension
// (".json" → JSON array, anything else → CSV), used for
// GlobalsConfig.DataOutputPath terminal export.
func Write(path string, s row.Stream) error {
	if len(path) >= 5 && path[len(path)-5:] == ".json" {
		return writeJSON(path, s)
	}
	return writeCSV(path, s)
}

func writeJSON(path string, s row.Stream) error {
	records := make([]map[string]any, len(s))
	for i, r := range s {
		records[i] = r.Data
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("input: marshal JSON output: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("input: write %s: %w", path, err)
	}
	return nil
}

// writeCSV derives the header as the sorted union of every row's keys so
// the output is stable even when rows were enriched with different sets
// of columns along the way.
func writeCSV(path string, s row.Stream) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("input: create %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	header := sortedKeys(s.KeyUniverse())

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("input: write CSV header: %w", err)
	}
	for _, r := range s {
		rec := make([]string, len(header))
		for i, k := range header {
			rec[i] = stringify(r.Data[k])
		}
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("input: write CSV row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

func sortedKeys(keys map[string]struct{}) []string {
	out := make([]string, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}
