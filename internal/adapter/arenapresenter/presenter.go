package arenapresenter

import (
	"context"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/park285/cheese-duel-bot/internal/combat"
	"github.com/park285/cheese-duel-bot/internal/duel"
	"github.com/park285/cheese-duel-bot/internal/obslog"
	"go.uber.org/zap"
)

// Presenter turns duel events into chat messages. It implements duel.Announcer.
type Presenter struct {
	surface *Surface
	view    *Formatter
	arenas  *lru.Cache[string, Handle]
	now     func() time.Time
}

var _ duel.Announcer = (*Presenter)(nil)

func NewPresenter(surface *Surface, f *Formatter, size int) (*Presenter, error) {
	if size <= 0 {
		size = 256
	}
	arenas, err := lru.New[string, Handle](size)
	if err != nil {
		return nil, err
	}
	return &Presenter{surface: surface, view: f, arenas: arenas, now: time.Now}, nil
}

// Announce renders ev. Delivery failures are logged and never reach the game.
func (p *Presenter) Announce(ctx context.Context, ev duel.Event) {
	if p == nil || ev.Session == nil {
		return
	}
	s := ev.Session
	var err error
	switch ev.Kind {
	case duel.EventChallenged:
		err = p.post(ctx, s, p.view.Challenge(s, p.now()), nil)
	case duel.EventAccepted:
		err = p.post(ctx, s, p.view.Accepted(s)+"\n"+p.view.Arena(s, p.now()), combat.Moves)
	case duel.EventMoved:
		err = p.edit(ctx, s, p.view.Moved(s, ev.Actor)+"\n"+p.view.Arena(s, p.now()))
	case duel.EventRound:
		err = p.post(ctx, s, p.view.Round(s, ev.Round)+"\n\n"+p.view.Arena(s, p.now()), combat.Moves)
	case duel.EventFinished:
		err = p.close(ctx, s, join(p.view.Round(s, ev.Round), p.view.Finished(s)))
	case duel.EventDeclined:
		err = p.close(ctx, s, p.view.Declined(s, ev.Actor))
	case duel.EventExpired:
		err = p.close(ctx, s, p.view.Expired(s))
	default:
		return
	}
	if err != nil {
		obslog.L().Warn("arena_announce_failed",
			zap.String("duel_id", s.ID),
			zap.String("event", string(ev.Kind)),
			zap.Error(err),
		)
	}
}

func (p *Presenter) post(ctx context.Context, s *duel.Session, text string, actions []combat.Action) error {
	h, err := p.surface.PostMessage(ctx, s.ChatID, text, actions)
	if err != nil {
		return err
	}
	if prev, ok := p.arenas.Get(s.ID); ok {
		p.surface.Forget(prev)
	}
	p.arenas.Add(s.ID, h)
	return nil
}

func (p *Presenter) edit(ctx context.Context, s *duel.Session, text string) error {
	h, ok := p.arenas.Get(s.ID)
	if !ok {
		return p.post(ctx, s, text, combat.Moves)
	}
	return p.surface.EditMessage(ctx, h, text, combat.Moves)
}

func (p *Presenter) close(ctx context.Context, s *duel.Session, text string) error {
	if h, ok := p.arenas.Get(s.ID); ok {
		p.surface.Forget(h)
		p.arenas.Remove(s.ID)
	}
	_, err := p.surface.PostMessage(ctx, s.ChatID, text, nil)
	return err
}

func join(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, s := range parts {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, "\n\n")
}
