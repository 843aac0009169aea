package worker

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/lingua-attempt/internal/metrics"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second
	RetryDelay   = 5 * time.Second
)

// popper is the BLPop batching loop shared by the workers. flush receives
// the raw queue items in arrival order.
type popper struct {
	rdb   *redis.Client
	queue string
	log   zerolog.Logger
	flush func(ctx context.Context, raw []string) error
}

func (p *popper) run(ctx context.Context) {
	p.log.Info().Str("queue", p.queue).Msg("Worker started")

	batch := make([]string, 0, BatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= BatchSize || time.Since(lastFlush) >= BatchTimeout) {
			p.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			p.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			p.drain(batch)
			p.log.Info().Msg("Worker stopped")
			return
		default:
		}

		item, err := p.rdb.BLPop(ctx, PollTimeout, p.queue).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				p.log.Error().Err(err).Msg("BLPop error")
				sleep(ctx, time.Second)
			}
			continue
		}
		if len(item) < 2 {
			continue
		}
		batch = append(batch, item[1])
	}
}

// flushSafe hands the batch to flush and puts it back at the head of the
// queue, in its original order, when flush fails.
func (p *popper) flushSafe(ctx context.Context, batch []string) {
	if len(batch) == 0 {
		return
	}
	if err := p.flush(ctx, batch); err != nil {
		p.log.Error().Err(err).Int("count", len(batch)).Msg("Flush failed, requeueing")
		p.requeue(batch)
		sleep(ctx, RetryDelay)
	}
}

func (p *popper) requeue(batch []string) {
	// LPUSH prepends one by one, so push newest first.
	vals := make([]any, len(batch))
	for i, raw := range batch {
		vals[len(batch)-1-i] = raw
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.rdb.LPush(ctx, p.queue, vals...).Err(); err != nil {
		p.log.Error().Err(err).Int("count", len(batch)).Msg("Requeue failed, items lost")
		return
	}
	metrics.QueueRequeued.WithLabelValues(p.queue).Add(float64(len(batch)))
}

// drain flushes what is buffered plus whatever is still queued, then returns.
// Anything that cannot be flushed stays in (or goes back to) the queue.
func (p *popper) drain(batch []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for {
		for len(batch) < BatchSize {
			raw, err := p.rdb.LPop(ctx, p.queue).Result()
			if err != nil {
				break
			}
			batch = append(batch, raw)
		}
		if len(batch) == 0 {
			return
		}
		if err := p.flush(ctx, batch); err != nil {
			p.log.Error().Err(err).Msg("Drain flush failed")
			p.requeue(batch)
			return
		}
		p.log.Info().Int("count", len(batch)).Msg("Drained items")
		batch = batch[:0]
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
