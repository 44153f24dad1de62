package mock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/kiranshivaraju/videojobs/pkg/models"
)

// ErrNoAttachment is returned by FetchAttachment for messages without a payload.
var ErrNoAttachment = errors.New("mock: message has no attachment")

// Sent records one outbound message.
type Sent struct {
	ID   int64
	Peer string
	Text string
}

// Bridge satisfies models.ChatBridge over an in-memory feed for testing.
// Message ids are assigned from a single counter, so ordering matches a real feed.
type Bridge struct {
	mu          sync.Mutex
	lastID      int64
	feed        []models.ChatMessage
	attachments map[int64][]byte
	usernames   map[string]string
	sent        []Sent

	SendErr       error
	FetchErr      error
	ResolveErr    error
	AttachmentErr error

	// OnSend runs after every successful Send, outside the lock.
	OnSend func(b *Bridge, sent Sent)
}

// NewBridge returns an empty Bridge whose next message id is lastID+1.
func NewBridge(lastID int64) *Bridge {
	return &Bridge{
		lastID:      lastID,
		attachments: make(map[int64][]byte),
		usernames:   make(map[string]string),
	}
}

// NewReplyingBridge returns a Bridge on which every Send is answered by a
// video message from the bot carrying payload.
func NewReplyingBridge(botUsername string, payload []byte) *Bridge {
	b := NewBridge(0)
	b.SetUsername("bot", botUsername)
	b.OnSend = func(b *Bridge, _ Sent) {
		b.Push(models.ChatMessage{SenderID: "bot", Media: models.MediaVideo}, payload)
	}
	return b
}

// SetUsername maps a sender id to a username.
func (b *Bridge) SetUsername(senderID, username string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.usernames[senderID] = username
}

// Push appends msg to the feed. A zero msg.ID is assigned the next id.
// A non-nil payload becomes the message's attachment.
func (b *Bridge) Push(msg models.ChatMessage, payload []byte) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if msg.ID == 0 {
		msg.ID = b.lastID + 1
	}
	if msg.ID > b.lastID {
		b.lastID = msg.ID
	}
	if msg.Date.IsZero() {
		msg.Date = time.Now().UTC()
	}
	b.feed = append(b.feed, msg)
	if payload != nil {
		b.attachments[msg.ID] = payload
	}
	return msg.ID
}

// SentMessages returns a copy of every message sent so far.
func (b *Bridge) SentMessages() []Sent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Sent(nil), b.sent...)
}

func (b *Bridge) Send(_ context.Context, peer, text string) (int64, error) {
	b.mu.Lock()
	if b.SendErr != nil {
		b.mu.Unlock()
		return 0, b.SendErr
	}
	b.lastID++
	s := Sent{ID: b.lastID, Peer: peer, Text: text}
	b.feed = append(b.feed, models.ChatMessage{ID: s.ID, Outgoing: true, Text: text, Date: time.Now().UTC()})
	b.sent = append(b.sent, s)
	hook := b.OnSend
	b.mu.Unlock()

	if hook != nil {
		hook(b, s)
	}
	return s.ID, nil
}

// FetchRecent returns the newest limit messages, newest first.
func (b *Bridge) FetchRecent(_ context.Context, _ string, limit int) ([]models.ChatMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FetchErr != nil {
		return nil, b.FetchErr
	}
	var out []models.ChatMessage
	for i := len(b.feed) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, b.feed[i])
	}
	return out, nil
}

func (b *Bridge) ResolveSender(_ context.Context, msg models.ChatMessage) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ResolveErr != nil {
		return "", b.ResolveErr
	}
	name, ok := b.usernames[msg.SenderID]
	if !ok {
		return "", fmt.Errorf("mock: unknown sender %q", msg.SenderID)
	}
	return name, nil
}

func (b *Bridge) FetchAttachment(_ context.Context, _ string, msgID int64, dest string) (int64, error) {
	b.mu.Lock()
	payload, ok := b.attachments[msgID]
	err := b.AttachmentErr
	b.mu.Unlock()
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNoAttachment
	}
	if err := os.WriteFile(dest, payload, 0o644); err != nil {
		return 0, err
	}
	return int64(len(payload)), nil
}

var _ models.ChatBridge = (*Bridge)(nil)
