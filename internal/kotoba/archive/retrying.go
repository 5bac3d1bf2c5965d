package archive

import (
	"context"
	"fmt"

	"github.com/bdobrica/kotoba/common/retry"
)

// Retrying retries a failed Archive on the wrapped sink with back-off. The
// summary is computed once by the caller and replayed as-is.
type Retrying struct {
	sink Sink
	cfg  retry.Config
}

var _ Sink = (*Retrying)(nil)

// NewRetrying wraps sink. A zero cfg uses retry.DefaultConfig.
func NewRetrying(sink Sink, cfg retry.Config) *Retrying {
	if cfg.MaxAttempts == 0 {
		logger := cfg.Logger
		cfg = retry.DefaultConfig
		cfg.Logger = logger
	}
	return &Retrying{sink: sink, cfg: cfg}
}

// Archive implements Sink.
func (r *Retrying) Archive(ctx context.Context, s Summary) error {
	err := retry.Do(ctx, r.cfg, func() error {
		return r.sink.Archive(ctx, s)
	})
	if err != nil {
		return fmt.Errorf("archive: session %s: %w", s.SessionID, err)
	}
	return nil
}
