package batch

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"
)

// Execute is the whole batch pipeline: preflight, fan-out, ordered
// reassembly, atomic commit. Output goes to outPath, or to stdout when
// outPath is "-" (streaming; atomicity does not apply to pipes). On any
// fatal error no file appears at outPath and the staging file is removed.
func Execute(ctx context.Context, rows []*Row, proc *Processor, workers int, outPath string) (Result, error) {
	if err := Preflight(rows, proc.ExtractTags); err != nil {
		return Result{}, err
	}
	return executeWithDispatcher(ctx, rows, &Dispatcher{Workers: workers, Process: proc.Process}, outPath)
}

func executeWithDispatcher(ctx context.Context, rows []*Row, d *Dispatcher, outPath string) (Result, error) {
	runID, err := gonanoid.New(8)
	if err != nil {
		return Result{}, fmt.Errorf("failed to generate run id: %w", err)
	}
	logger := log.With().Str("run", runID).Logger()
	logger.Info().Int("rows", len(rows)).Int("workers", d.Workers).Msg("batch run starting")

	if outPath == "-" {
		res, err := d.Run(ctx, rows, os.Stdout)
		if err != nil {
			return Result{}, err
		}
		logger.Info().Int("total", res.Total).Int("failed", res.Failed).Msg("batch run finished")
		return res, nil
	}

	tmpPath := filepath.Join(filepath.Dir(outPath), fmt.Sprintf(".%s.%s.tmp", filepath.Base(outPath), runID))
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create staging file: %w", err)
	}

	abort := func() {
		f.Close()
		os.Remove(tmpPath)
	}

	w := bufio.NewWriter(f)
	res, runErr := d.Run(ctx, rows, w)
	if runErr != nil {
		abort()
		return Result{}, runErr
	}
	if err := w.Flush(); err != nil {
		abort()
		return Result{}, fmt.Errorf("failed to write batch output: %w", err)
	}
	if err := f.Sync(); err != nil {
		abort()
		return Result{}, fmt.Errorf("failed to sync batch output: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return Result{}, fmt.Errorf("failed to close batch output: %w", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		os.Remove(tmpPath)
		return Result{}, fmt.Errorf("failed to install batch output at %s: %w", outPath, err)
	}

	logger.Info().Int("total", res.Total).Int("failed", res.Failed).Str("output", outPath).Msg("batch run finished")
	return res, nil
}
