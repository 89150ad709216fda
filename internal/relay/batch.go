package relay

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ppiankov/topicrelay/internal/policy"
)

// PublishLines publishes every line of r without a terminal session, applying
// tbl to bad lines and failed publishes. It returns the number of envelopes
// published. End of input is not an error.
func PublishLines(ctx context.Context, p *Publisher, r io.Reader, tbl policy.Table, diag io.Writer) (int, error) {
	lr := newLineReader(r)
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		line, err := lr.next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			if errors.Is(err, ErrInputClosed) || tbl.Input.Action != policy.Skip {
				return n, err
			}
			fmt.Fprintf(diag, "topicrelay: skipped input error: %v\n", err)
			continue
		}

		if err := p.Publish(ctx, line, tbl.Publish); err != nil {
			if ctx.Err() != nil || tbl.Publish.Action != policy.Skip {
				return n, err
			}
			fmt.Fprintf(diag, "topicrelay: skipped publish error: %v\n", err)
			continue
		}
		n++
	}
}
