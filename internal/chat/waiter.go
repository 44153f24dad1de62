package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/videojobs/pkg/models"
)

// ErrCorrelationTimeout is returned when no qualifying reply arrives within the wait window.
var ErrCorrelationTimeout = errors.New("correlation timeout")

const (
	DefaultPollInterval = 10 * time.Second
	DefaultWaitTimeout  = 15 * time.Minute
	DefaultFetchLimit   = 20

	claimTTL = 24 * time.Hour
)

// ReplyClaimer arbitrates replies between jobs sharing one chat session.
type ReplyClaimer interface {
	ClaimReply(ctx context.Context, peer string, msgID int64, jobID uuid.UUID, ttl time.Duration) (bool, error)
}

// Waiter polls the chat feed for the bot's video reply to an outbound message.
type Waiter struct {
	bridge   models.ChatBridge
	peer     string
	interval time.Duration
	timeout  time.Duration
	limit    int
	claimer  ReplyClaimer
	logger   *slog.Logger
}

// WaiterOption configures the Waiter.
type WaiterOption func(*Waiter)

func WithPollInterval(d time.Duration) WaiterOption {
	return func(w *Waiter) {
		if d > 0 {
			w.interval = d
		}
	}
}

func WithWaitTimeout(d time.Duration) WaiterOption {
	return func(w *Waiter) {
		if d > 0 {
			w.timeout = d
		}
	}
}

func WithFetchLimit(n int) WaiterOption {
	return func(w *Waiter) {
		if n > 0 {
			w.limit = n
		}
	}
}

// WithReplyClaimer makes the waiter claim a reply before accepting it, so two
// jobs never take the same message.
func WithReplyClaimer(c ReplyClaimer) WaiterOption {
	return func(w *Waiter) {
		w.claimer = c
	}
}

func WithLogger(l *slog.Logger) WaiterOption {
	return func(w *Waiter) {
		w.logger = l
	}
}

// NewWaiter creates a Waiter watching replies from peer.
func NewWaiter(bridge models.ChatBridge, peer string, opts ...WaiterOption) *Waiter {
	w := &Waiter{
		bridge:   bridge,
		peer:     peer,
		interval: DefaultPollInterval,
		timeout:  DefaultWaitTimeout,
		limit:    DefaultFetchLimit,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Waiter) Peer() string { return w.peer }

// Wait blocks until a video reply newer than since arrives from the peer, the
// wait window elapses, or ctx is done. Poll failures are logged and retried.
func (w *Waiter) Wait(ctx context.Context, jobID uuid.UUID, since int64) (*models.ChatMessage, error) {
	start := time.Now()
	deadline := time.NewTimer(w.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		msg, err := w.poll(ctx, jobID, since)
		if err != nil {
			w.logger.Warn("chat poll failed",
				"job_id", jobID, "peer", w.peer, "request_message_id", since, "error", err)
		}
		if msg != nil {
			w.logger.Info("reply correlated",
				"job_id", jobID, "request_message_id", since, "reply_message_id", msg.ID,
				"waited_ms", time.Since(start).Milliseconds())
			return msg, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("%w: no video reply from @%s within %s",
				ErrCorrelationTimeout, normalizeUsername(w.peer), w.timeout)
		case <-ticker.C:
		}
	}
}

// poll scans one window of the feed in ascending id order and returns the
// first qualifying message, or nil.
func (w *Waiter) poll(ctx context.Context, jobID uuid.UUID, since int64) (*models.ChatMessage, error) {
	msgs, err := w.bridge.FetchRecent(ctx, w.peer, w.limit)
	if err != nil {
		return nil, err
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].ID < msgs[j].ID })

	for i := range msgs {
		m := msgs[i]
		if m.ID <= since || m.Outgoing {
			continue
		}
		if m.Media != models.MediaVideo {
			continue
		}
		if !w.fromPeer(ctx, m) {
			continue
		}
		if !w.claim(ctx, jobID, m) {
			continue
		}
		return &m, nil
	}
	return nil, nil
}

// fromPeer reports whether m was authored by the peer. Unresolvable senders
// are accepted.
func (w *Waiter) fromPeer(ctx context.Context, m models.ChatMessage) bool {
	username, err := w.bridge.ResolveSender(ctx, m)
	if err != nil || username == "" {
		w.logger.Debug("sender unresolved, accepting", "message_id", m.ID, "error", err)
		return true
	}
	return normalizeUsername(username) == normalizeUsername(w.peer)
}

func (w *Waiter) claim(ctx context.Context, jobID uuid.UUID, m models.ChatMessage) bool {
	if w.claimer == nil {
		return true
	}
	ok, err := w.claimer.ClaimReply(ctx, w.peer, m.ID, jobID, claimTTL)
	if err != nil {
		w.logger.Warn("reply claim failed, accepting", "job_id", jobID, "message_id", m.ID, "error", err)
		return true
	}
	if !ok {
		w.logger.Debug("reply claimed by another job", "job_id", jobID, "message_id", m.ID)
	}
	return ok
}

func normalizeUsername(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "@"))
}
