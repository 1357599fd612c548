package arenapresenter

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/park285/cheese-duel-bot/internal/combat"
	"github.com/park285/cheese-duel-bot/internal/irisfast"
	"github.com/park285/cheese-duel-bot/internal/obslog"
	"go.uber.org/zap"
)

// Handle identifies a posted message so it can be edited later.
type Handle struct {
	Chat string
	Key  string
}

type sentText struct {
	text string
	at   time.Time
}

// Surface posts and edits chat messages over an Iris egress.
// Kakao cannot edit a sent message, so an edit sends the new text again;
// edits are skipped when the text is unchanged or the last send was too recent.
type Surface struct {
	egress  irisfast.Egress
	render  func([]combat.Action) string
	minGap  time.Duration
	now     func() time.Time
	mu      sync.Mutex
	lastOut *lru.Cache[Handle, sentText]
}

// NewSurface builds a Surface remembering at most size messages.
// render turns the offered actions into a trailing line; nil omits it.
func NewSurface(egress irisfast.Egress, minGap time.Duration, size int, render func([]combat.Action) string) (*Surface, error) {
	if size <= 0 {
		size = 512
	}
	cache, err := lru.New[Handle, sentText](size)
	if err != nil {
		return nil, err
	}
	return &Surface{egress: egress, render: render, minGap: minGap, now: time.Now, lastOut: cache}, nil
}

func (s *Surface) compose(text string, actions []combat.Action) string {
	text = strings.TrimSpace(text)
	if len(actions) == 0 || s.render == nil {
		return text
	}
	if line := strings.TrimSpace(s.render(actions)); line != "" {
		return text + "\n\n" + line
	}
	return text
}

// PostMessage sends a new message and returns its handle.
func (s *Surface) PostMessage(ctx context.Context, chat, text string, actions []combat.Action) (Handle, error) {
	h := Handle{Chat: chat, Key: uuid.NewString()}
	out := s.compose(text, actions)
	if err := s.egress.SendText(ctx, chat, out); err != nil {
		return Handle{}, err
	}
	s.lastOut.Add(h, sentText{text: out, at: s.now()})
	return h, nil
}

// EditMessage replaces the message behind h. Debounced edits return nil without sending.
func (s *Surface) EditMessage(ctx context.Context, h Handle, text string, actions []combat.Action) error {
	out := s.compose(text, actions)
	now := s.now()

	s.mu.Lock()
	prev, ok := s.lastOut.Get(h)
	if ok && (prev.text == out || now.Sub(prev.at) < s.minGap) {
		s.mu.Unlock()
		obslog.L().Debug("arena_edit_skipped", zap.String("chat_id", h.Chat), zap.Bool("same_text", prev.text == out))
		return nil
	}
	s.lastOut.Add(h, sentText{text: out, at: now})
	s.mu.Unlock()

	if err := s.egress.SendText(ctx, h.Chat, out); err != nil {
		s.mu.Lock()
		if ok {
			s.lastOut.Add(h, prev)
		} else {
			s.lastOut.Remove(h)
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// Forget drops the debounce entry for h.
func (s *Surface) Forget(h Handle) { s.lastOut.Remove(h) }
