package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog/log"
)

// Dispatcher fans rows out over a fixed-size worker pool and reassembles
// completed output lines in input order.
type Dispatcher struct {
	Workers int
	Process func(ctx context.Context, row *Row) (*Row, bool, error)
}

// Result summarizes a completed run. Failed counts rows that recorded a
// non-fatal error field.
type Result struct {
	Total  int
	Failed int
}

// Run processes every row and writes one output line per row to w, in input
// order regardless of completion order. The first fatal error cancels all
// not-yet-started work and is returned; w may then hold partial output, so
// callers who need atomicity stage w and only install it when Run succeeds.
func (d *Dispatcher) Run(ctx context.Context, rows []*Row, w io.Writer) (Result, error) {
	workers := d.Workers
	if workers < 1 {
		workers = 1
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Reassembly state, guarded by one mutex: workers insert their finished
	// line, then drain every consecutive index starting at next. Only the
	// draining worker touches w, never two at once.
	var (
		mu       sync.Mutex
		next     int
		pending  = make(map[int][]byte)
		failed   int
		fatal    error
		writeErr error
	)

	jobs := make(chan int)
	go func() {
		defer close(jobs)
		for i := range rows {
			select {
			case jobs <- i:
			case <-runCtx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for n := 0; n < workers; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if runCtx.Err() != nil {
					return
				}
				out, rowFailed, err := d.Process(runCtx, rows[i])
				if err != nil {
					mu.Lock()
					if fatal == nil {
						fatal = err
					}
					mu.Unlock()
					cancel()
					return
				}
				line, err := json.Marshal(out)
				if err != nil {
					mu.Lock()
					if fatal == nil {
						fatal = fmt.Errorf("failed to encode output row %d: %w", i, err)
					}
					mu.Unlock()
					cancel()
					return
				}

				log.Debug().Int("row", i).Bool("errored", rowFailed).Msg("batch row completed")

				mu.Lock()
				if rowFailed {
					failed++
				}
				pending[i] = append(line, '\n')
				for {
					buf, ok := pending[next]
					if !ok {
						break
					}
					delete(pending, next)
					if writeErr == nil {
						if _, err := w.Write(buf); err != nil {
							writeErr = err
						}
					}
					next++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if fatal != nil {
		return Result{}, fatal
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if writeErr != nil {
		return Result{}, fmt.Errorf("failed to write batch output: %w", writeErr)
	}
	return Result{Total: len(rows), Failed: failed}, nil
}
