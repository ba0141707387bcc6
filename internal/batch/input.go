package batch

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/xlr8harder/mq/internal/mqerr"
)

// Lines beyond this are almost certainly not prompt data.
const maxLineBytes = 64 * 1024 * 1024

// ParseInput reads NDJSON rows. Blank lines are skipped; every other line
// must decode to a JSON object with a string "prompt" field, else the whole
// batch fails with the 1-based line number before any request is issued.
func ParseInput(r io.Reader) ([]*Row, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var rows []*Row
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		row, err := parseRow(line)
		if err != nil {
			return nil, mqerr.User("invalid batch input on line %d: %v", lineNo, err)
		}
		prompt, ok := row.StringValue("prompt")
		if !ok {
			return nil, mqerr.User("invalid batch input on line %d: missing string \"prompt\" field", lineNo)
		}
		if strings.TrimSpace(prompt) == "" {
			return nil, mqerr.User("invalid batch input on line %d: empty \"prompt\" field", lineNo)
		}
		row.line = lineNo
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read batch input: %w", err)
	}
	return rows, nil
}

// parseRow decodes one object while recording top-level key order, which
// encoding/json's map decoding would discard.
func parseRow(line []byte) (*Row, error) {
	dec := json.NewDecoder(bytes.NewReader(line))

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("not valid JSON: %v", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected a JSON object")
	}

	row := NewRow()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("not valid JSON: %v", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("expected an object key")
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("invalid value for %q: %v", key, err)
		}
		row.setRaw(key, raw)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("not valid JSON: %v", err)
	}
	// Trailing content after the object means the line is not one record.
	if dec.More() {
		return nil, fmt.Errorf("trailing content after JSON object")
	}
	return row, nil
}
