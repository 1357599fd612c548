package arenapresenter

import (
	"context"
	"time"

	"github.com/park285/cheese-duel-bot/internal/duel"
	"github.com/park285/cheese-duel-bot/internal/obslog"
	"go.uber.org/zap"
)

// Queue hands announcements to a single worker so game paths (commands, the
// sweeper) never wait on chat I/O. Events keep their order; a full buffer drops.
type Queue struct {
	next    duel.Announcer
	events  chan duel.Event
	timeout time.Duration
}

var _ duel.Announcer = (*Queue)(nil)

func NewQueue(next duel.Announcer, size int, timeout time.Duration) *Queue {
	if size <= 0 {
		size = 256
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Queue{next: next, events: make(chan duel.Event, size), timeout: timeout}
}

// Announce enqueues ev without blocking.
func (q *Queue) Announce(_ context.Context, ev duel.Event) {
	select {
	case q.events <- ev:
	default:
		id := ""
		if ev.Session != nil {
			id = ev.Session.ID
		}
		obslog.L().Warn("arena_announce_dropped",
			zap.String("duel_id", id),
			zap.String("event", string(ev.Kind)),
			zap.Int("queued", len(q.events)),
		)
	}
}

// Run delivers events until ctx ends, then flushes the backlog within one timeout.
func (q *Queue) Run(ctx context.Context) error {
	base := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(base, q.timeout)
			q.flush(fctx)
			cancel()
			return nil
		case ev := <-q.events:
			q.deliver(base, ev)
		}
	}
}

func (q *Queue) flush(ctx context.Context) {
	for {
		select {
		case ev := <-q.events:
			if ctx.Err() != nil {
				return
			}
			q.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (q *Queue) deliver(parent context.Context, ev duel.Event) {
	ctx, cancel := context.WithTimeout(parent, q.timeout)
	defer cancel()
	q.next.Announce(ctx, ev)
}
