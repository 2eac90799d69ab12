package telemetry

import (
	"context"
	"time"

	"agsteer/internal/pipeline"

	"github.com/rs/zerolog"
)

// Sink consumes published snapshots.
type Sink interface {
	Consume(snap pipeline.Snapshot) error
}

// StoreSink buffers snapshots and appends them to one store session in
// batches.
type StoreSink struct {
	store   *Store
	session uint
	batch   int
	buf     []pipeline.Snapshot
}

func NewStoreSink(store *Store, session uint, batch int) *StoreSink {
	if batch <= 0 {
		batch = 50
	}
	return &StoreSink{store: store, session: session, batch: batch, buf: make([]pipeline.Snapshot, 0, batch)}
}

func (s *StoreSink) Consume(snap pipeline.Snapshot) error {
	s.buf = append(s.buf, snap)
	if len(s.buf) < s.batch {
		return nil
	}
	return s.Flush(context.Background())
}

func (s *StoreSink) Flush(ctx context.Context) error {
	if len(s.buf) == 0 {
		return nil
	}
	err := s.store.Append(ctx, s.session, s.buf)
	s.buf = s.buf[:0]
	return err
}

func (s *StoreSink) Session() uint { return s.session }

type flusher interface {
	Flush(ctx context.Context) error
}

// Run feeds every snapshot from src to the sinks until ctx is done or src is
// closed. Sink errors are logged and do not stop the loop. Buffered sinks
// are flushed every interval and on exit.
func Run(ctx context.Context, src <-chan pipeline.Snapshot, interval time.Duration, log zerolog.Logger, sinks ...Sink) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	flush := func() {
		for _, s := range sinks {
			if f, ok := s.(flusher); ok {
				if err := f.Flush(context.Background()); err != nil {
					log.Warn().Err(err).Msg("telemetry flush failed")
				}
			}
		}
	}
	defer flush()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			flush()
		case snap, ok := <-src:
			if !ok {
				return
			}
			for _, s := range sinks {
				if err := s.Consume(snap); err != nil {
					log.Warn().Err(err).Uint64("seq", snap.Seq).Msg("telemetry sink failed")
				}
			}
		}
	}
}
