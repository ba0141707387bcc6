package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xlr8harder/mq/internal/mqerr"
)

func parseRows(t *testing.T, in string) []*Row {
	t.Helper()
	rows, err := ParseInput(strings.NewReader(in))
	require.NoError(t, err)
	return rows
}

func outputLines(t *testing.T, data []byte) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range bytes.Split(bytes.TrimSpace(data), []byte("\n")) {
		var obj map[string]interface{}
		require.NoError(t, json.Unmarshal(line, &obj))
		out = append(out, obj)
	}
	return out
}

func TestRunOrdersOutputUnderReversedCompletion(t *testing.T) {
	rows := parseRows(t, `{"id":1,"prompt":"P1"}
{"id":2,"prompt":"P2"}`)

	// Row 0 blocks until row 1 has finished, so completion order is the
	// exact reverse of input order.
	row2Done := make(chan struct{})
	proc := &Processor{Request: func(ctx context.Context, prompt string) (string, string, error) {
		if prompt == "P1" {
			<-row2Done
			return "R1", "", nil
		}
		defer close(row2Done)
		return "R2", "", nil
	}}

	var buf bytes.Buffer
	d := &Dispatcher{Workers: 2, Process: proc.Process}
	res, err := d.Run(context.Background(), rows, &buf)
	require.NoError(t, err)
	assert.Equal(t, Result{Total: 2, Failed: 0}, res)

	lines := outputLines(t, buf.Bytes())
	require.Len(t, lines, 2)
	assert.Equal(t, float64(1), lines[0]["id"])
	assert.Equal(t, "R1", lines[0]["response"])
	assert.Equal(t, float64(2), lines[1]["id"])
	assert.Equal(t, "R2", lines[1]["response"])
}

func TestRunOrdersOutputUnderRandomCompletion(t *testing.T) {
	var in strings.Builder
	const n = 50
	for i := 0; i < n; i++ {
		fmt.Fprintf(&in, "{\"id\":%d,\"prompt\":\"p%d\"}\n", i, i)
	}
	rows := parseRows(t, in.String())

	rng := rand.New(rand.NewSource(1))
	delays := make([]time.Duration, n)
	for i := range delays {
		delays[i] = time.Duration(rng.Intn(10)) * time.Millisecond
	}
	proc := &Processor{Request: func(ctx context.Context, prompt string) (string, string, error) {
		var id int
		fmt.Sscanf(prompt, "p%d", &id)
		time.Sleep(delays[id])
		return "r" + prompt, "", nil
	}}

	var buf bytes.Buffer
	d := &Dispatcher{Workers: 8, Process: proc.Process}
	res, err := d.Run(context.Background(), rows, &buf)
	require.NoError(t, err)
	assert.Equal(t, n, res.Total)

	lines := outputLines(t, buf.Bytes())
	require.Len(t, lines, n)
	for i, line := range lines {
		assert.Equal(t, float64(i), line["id"], "line %d out of order", i)
	}
}

func TestRunRecordsPerRowErrorsWithoutAborting(t *testing.T) {
	rows := parseRows(t, `{"id":1,"prompt":"ok"}
{"id":2,"prompt":"fail"}
{"id":3,"prompt":"ok"}`)

	proc := &Processor{Request: func(ctx context.Context, prompt string) (string, string, error) {
		if prompt == "fail" {
			return "", "", mqerr.Request("backend exploded", map[string]interface{}{"status": 500})
		}
		return "fine", "", nil
	}}

	var buf bytes.Buffer
	d := &Dispatcher{Workers: 2, Process: proc.Process}
	res, err := d.Run(context.Background(), rows, &buf)
	require.NoError(t, err)
	assert.Equal(t, Result{Total: 3, Failed: 1}, res)

	lines := outputLines(t, buf.Bytes())
	require.Len(t, lines, 3)
	assert.Equal(t, "fine", lines[0]["response"])
	assert.NotContains(t, lines[0], "error")
	assert.Equal(t, "backend exploded", lines[1]["error"])
	assert.NotContains(t, lines[1], "response")
	info, ok := lines[1]["error_info"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(500), info["status"])
	assert.Equal(t, "fine", lines[2]["response"])
}

func TestExecuteMergeConflictCreatesNoOutput(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.ndjson")

	rows := parseRows(t, `{"prompt":"a"}
{"prompt":"b","response":"already here"}`)

	called := false
	proc := &Processor{Request: func(ctx context.Context, prompt string) (string, string, error) {
		called = true
		return "x", "", nil
	}}

	_, err := Execute(context.Background(), rows, proc, 2, outPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "merge conflict")
	assert.False(t, called, "no request may be issued after a preflight failure")
	assert.NoFileExists(t, outPath)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no staging file may be left behind")
}

func TestExecuteCommitsAtomically(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.ndjson")

	rows := parseRows(t, `{"id":1,"prompt":"P1"}
{"id":2,"prompt":"P2"}`)

	proc := &Processor{Request: func(ctx context.Context, prompt string) (string, string, error) {
		return "resp:" + prompt, "", nil
	}}

	res, err := Execute(context.Background(), rows, proc, 2, outPath)
	require.NoError(t, err)
	assert.Equal(t, Result{Total: 2, Failed: 0}, res)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	lines := outputLines(t, data)
	require.Len(t, lines, 2)
	assert.Equal(t, "resp:P1", lines[0]["response"])
	assert.Equal(t, "P1", lines[0]["mq_input_prompt"])

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "staging file must be gone after commit")
}

func TestRunAbortsOnFatalProcessingError(t *testing.T) {
	var in strings.Builder
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&in, "{\"id\":%d,\"prompt\":\"p%d\"}\n", i, i)
	}
	rows := parseRows(t, in.String())

	fatalErr := mqerr.User("merge conflict: simulated")
	d := &Dispatcher{Workers: 4, Process: func(ctx context.Context, row *Row) (*Row, bool, error) {
		p, _ := row.StringValue("prompt")
		if p == "p5" {
			return nil, false, fatalErr
		}
		time.Sleep(time.Millisecond)
		out := row.Clone()
		require.NoError(t, out.Set("response", "x"))
		return out, false, nil
	}}

	var buf bytes.Buffer
	_, err := d.Run(context.Background(), rows, &buf)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fatalErr))
}

func TestExecuteRemovesStagingFileOnAbort(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.ndjson")
	rows := parseRows(t, `{"id":1,"prompt":"p"}`)

	proc := &Processor{
		ExtractTags: true,
		Request: func(ctx context.Context, prompt string) (string, string, error) {
			return "<a>1</a><a>2</a><a>3</a>", "", nil
		},
	}
	// First confirm a normal run commits.
	_, err := Execute(context.Background(), rows, proc, 1, outPath)
	require.NoError(t, err)
	require.NoError(t, os.Remove(outPath))

	// Now a run whose dispatcher fails fatally: nothing may remain in dir.
	d := &Dispatcher{Workers: 1, Process: func(ctx context.Context, row *Row) (*Row, bool, error) {
		return nil, false, mqerr.User("merge conflict: simulated")
	}}
	_, err = executeWithDispatcher(context.Background(), rows, d, outPath)
	require.Error(t, err)
	assert.NoFileExists(t, outPath)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunContextCancellation(t *testing.T) {
	var in strings.Builder
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&in, "{\"id\":%d,\"prompt\":\"p%d\"}\n", i, i)
	}
	rows := parseRows(t, in.String())

	ctx, cancel := context.WithCancel(context.Background())
	proc := &Processor{Request: func(c context.Context, prompt string) (string, string, error) {
		cancel()
		<-c.Done()
		return "", "", c.Err()
	}}

	var buf bytes.Buffer
	d := &Dispatcher{Workers: 2, Process: proc.Process}
	_, err := d.Run(ctx, rows, &buf)
	require.Error(t, err)
}

func TestExecuteTagExtraction(t *testing.T) {
	outPath := filepath.Join(t.TempDir(), "out.ndjson")
	rows := parseRows(t, `{"id":1,"prompt":"P1"}`)

	proc := &Processor{
		ExtractTags: true,
		Request: func(ctx context.Context, prompt string) (string, string, error) {
			return "<field>one</field>\nR1", "", nil
		},
	}
	res, err := Execute(context.Background(), rows, proc, 1, outPath)
	require.NoError(t, err)
	assert.Equal(t, Result{Total: 1, Failed: 0}, res)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	lines := outputLines(t, data)
	require.Len(t, lines, 1)
	assert.Equal(t, "one", lines[0]["tag:field"])
	assert.Equal(t, "<field>one</field>\nR1", lines[0]["response"])
}
