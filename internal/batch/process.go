package batch

import (
	"context"

	"github.com/xlr8harder/mq/internal/mqerr"
)

// RequestFunc issues the backend call for one row's final prompt. It may be
// slow and may fail; it is called concurrently with distinct prompts.
type RequestFunc func(ctx context.Context, prompt string) (content, reasoning string, err error)

// Processor turns one input row into one output row. Request failures are
// recorded on the row as error/error_info and do not abort the batch; merge
// conflicts propagate as fatal.
type Processor struct {
	Request     RequestFunc
	Prefix      string
	Sysprompt   string
	ExtractTags bool
}

// Process returns the output row and whether this row recorded a non-fatal
// error. A non-nil error is batch-fatal.
func (p *Processor) Process(ctx context.Context, row *Row) (*Row, bool, error) {
	original, _ := row.StringValue("prompt")
	final := p.Prefix + original

	out := row.Clone()
	if err := out.Set("prompt", final); err != nil {
		return nil, false, err
	}
	if err := out.Set("mq_input_prompt", original); err != nil {
		return nil, false, err
	}
	if p.Sysprompt != "" {
		if err := out.Set("sysprompt", p.Sysprompt); err != nil {
			return nil, false, err
		}
	}

	content, reasoning, err := p.Request(ctx, final)
	if err != nil {
		if setErr := out.Set("error", err.Error()); setErr != nil {
			return nil, false, setErr
		}
		if info := mqerr.InfoOf(err); info != nil {
			if setErr := out.Set("error_info", info); setErr != nil {
				return nil, false, setErr
			}
		}
		return out, true, nil
	}

	if err := out.Set("response", content); err != nil {
		return nil, false, err
	}
	if reasoning != "" {
		if err := out.Set("reasoning", reasoning); err != nil {
			return nil, false, err
		}
	}

	if p.ExtractTags {
		for _, tag := range extractTagValues(content) {
			key := tagPrefix + tag.Name
			if out.Has(key) {
				return nil, false, mqerr.User("merge conflict: extracted tag %q collides with existing key %q", tag.Name, key)
			}
			var err error
			if len(tag.Values) == 1 {
				err = out.Set(key, tag.Values[0])
			} else {
				err = out.Set(key, tag.Values)
			}
			if err != nil {
				return nil, false, err
			}
		}
	}
	return out, false, nil
}
