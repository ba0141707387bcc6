// Package batch runs many independent prompts against a backend at bounded
// concurrency and writes NDJSON output in exact input order, committing the
// output file atomically so an aborted run never leaves partial results.
package batch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xlr8harder/mq/internal/mqerr"
)

// Keys the dispatcher writes on output rows. An input row carrying any of
// these is a merge conflict.
var reservedKeys = []string{"response", "mq_input_prompt", "reasoning", "sysprompt", "error", "error_info"}

// tagPrefix namespaces extracted tag fields; with extraction enabled the
// whole namespace is reserved.
const tagPrefix = "tag:"

// Row is one input record: a JSON object whose key order is preserved from
// input to output. Values pass through untouched as raw JSON; keys appended
// during processing marshal after the input keys in append order. line is
// the 1-based source line the row was parsed from, for error reporting.
type Row struct {
	keys   []string
	values map[string]json.RawMessage
	line   int
}

// NewRow returns an empty row.
func NewRow() *Row {
	return &Row{values: make(map[string]json.RawMessage)}
}

// Has reports whether key is present.
func (r *Row) Has(key string) bool {
	_, ok := r.values[key]
	return ok
}

// Keys returns the key order.
func (r *Row) Keys() []string {
	return r.keys
}

// StringValue returns the value for key when it is a JSON string.
func (r *Row) StringValue(key string) (string, bool) {
	raw, ok := r.values[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// Set marshals v under key, appending the key if new.
func (r *Row) Set(key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal value for %q: %w", key, err)
	}
	r.setRaw(key, raw)
	return nil
}

func (r *Row) setRaw(key string, raw json.RawMessage) {
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = raw
}

// Clone returns an independent copy.
func (r *Row) Clone() *Row {
	out := &Row{
		keys:   append([]string(nil), r.keys...),
		values: make(map[string]json.RawMessage, len(r.values)),
		line:   r.line,
	}
	for k, v := range r.values {
		out.values[k] = v
	}
	return out
}

// MarshalJSON emits the row as an object with keys in row order.
func (r *Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(r.values[key])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Preflight scans every row for reserved-key collisions before any request
// is issued. The first offending row fails the whole batch, reported by its
// source line number (blank lines count).
func Preflight(rows []*Row, extractTags bool) error {
	for i, row := range rows {
		line := row.line
		if line == 0 {
			line = i + 1
		}
		for _, key := range reservedKeys {
			if row.Has(key) {
				return mqerr.User("merge conflict: input line %d already contains reserved key %q", line, key)
			}
		}
		if !extractTags {
			continue
		}
		for _, key := range row.Keys() {
			if strings.HasPrefix(key, tagPrefix) {
				return mqerr.User("merge conflict: input line %d contains key %q in the reserved %q namespace", line, key, tagPrefix)
			}
		}
	}
	return nil
}
