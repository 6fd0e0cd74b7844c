// Package input reads a RowStream from CSV or JSON/JSON-Lines sources,
// with auto-detection of the format when requested.
package input

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/Mythli/batchprompter-sub003/row"
)

// Format names an input encoding. FormatAuto defers to Sniff.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatAuto  Format = "auto"
)

// Read loads a row.Stream from path, inferring Format from the file
// extension when format is FormatAuto or empty and the extension is
// recognised, else sniffing the first non-whitespace byte per spec §6
// ('[' → JSON, '{' → JSONL, else CSV). No third-party CSV library appears
// anywhere in the reference corpus (confirmed against the whole pack, not
// just the chosen teacher), so encoding/csv is used directly here — see
// DESIGN.md.
func Read(path string, format Format) (row.Stream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("input: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	resolved := format
	if resolved == "" || resolved == FormatAuto {
		resolved, err = detectFormat(path, f)
		if err != nil {
			return nil, err
		}
	}

	switch resolved {
	case FormatCSV:
		return readCSV(f)
	case FormatJSON:
		return readJSON(f)
	case FormatJSONL:
		return readJSONL(f)
	default:
		return nil, fmt.Errorf("input: unknown format %q", resolved)
	}
}

func detectFormat(path string, f *os.File) (Format, error) {
	if byExt := formatFromExt(path); byExt != "" {
		return byExt, nil
	}
	return sniff(f)
}

func formatFromExt(path string) Format {
	switch {
	case strings.HasSuffix(path, ".csv"):
		return FormatCSV
	case strings.HasSuffix(path, ".jsonl"):
		return FormatJSONL
	case strings.HasSuffix(path, ".json"):
		return FormatJSON
	default:
		return ""
	}
}

// sniff inspects the first non-whitespace byte of f and rewinds it so the
// subsequent reader starts from the beginning, per spec §6.
func sniff(f *os.File) (Format, error) {
	r := bufio.NewReader(f)
	for {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return FormatCSV, seekStart(f)
			}
			return "", fmt.Errorf("input: sniff: %w", err)
		}
		if b == ' ' || b == '\t' || b == '\n' || b == '\r' {
			continue
		}
		if err := seekStart(f); err != nil {
			return "", err
		}
		switch b {
		case '[':
			return FormatJSON, nil
		case '{':
			return FormatJSONL, nil
		default:
			return FormatCSV, nil
		}
	}
}

func seekStart(f *os.File) error {
	_, err := f.Seek(0, io.SeekStart)
	return err
}

// readCSV parses a header-required CSV: the first row defines the Row
// key universe.
func readCSV(r io.Reader) (row.Stream, error) {
	cr := csv.NewReader(r)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("input: parse CSV: %w", err)
	}
	if len(records) == 0 {
		return row.Stream{}, nil
	}

	header := records[0]
	stream := make(row.Stream, 0, len(records)-1)
	for i, rec := range records[1:] {
		data := make(map[string]any, len(header))
		for col, key := range header {
			if col < len(rec) {
				data[key] = rec[col]
			} else {
				data[key] = ""
			}
		}
		stream = append(stream, row.New(strconv.Itoa(i), data))
	}
	return stream, nil
}

// readJSON parses a JSON array of objects.
func readJSON(r io.Reader) (row.Stream, error) {
	var records []map[string]any
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("input: parse JSON: %w", err)
	}
	stream := make(row.Stream, 0, len(records))
	for i, rec := range records {
		stream = append(stream, row.New(strconv.Itoa(i), rec))
	}
	return stream, nil
}

// readJSONL parses newline-delimited JSON objects, one per line.
func readJSONL(r io.Reader) (row.Stream, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var stream row.Stream
	idx := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("input: parse JSONL line %d: %w", idx, err)
		}
		stream = append(stream, row.New(strconv.Itoa(idx), rec))
		idx++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("input: read JSONL: %w", err)
	}
	return stream, nil
}

// Slice applies offset/limit to a stream, matching DataConfig semantics:
// offset skips leading rows, limit caps the count (0 means unbounded).
func Slice(s row.Stream, offset, limit int) row.Stream {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(s) {
		return row.Stream{}
	}
	sliced := s[offset:]
	if limit > 0 && limit < len(sliced) {
		sliced = sliced[:limit]
	}
	return sliced
}
