// Package chat talks to the chat gateway that fronts the generation bot and
// correlates the bot's replies with submitted jobs.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/videojobs/internal/cache"
	"github.com/kiranshivaraju/videojobs/pkg/models"
	"golang.org/x/time/rate"
)

// Sentinel errors for gateway failures.
var (
	ErrBridgeUnreachable = errors.New("chat gateway unreachable")
	ErrBridgeRequest     = errors.New("chat gateway request failed")
	ErrBridgeTimeout     = errors.New("chat gateway timeout")
)

const (
	senderCacheTTL      = time.Hour
	defaultMediaTimeout = 30 * time.Minute
)

// SenderCache stores resolved sender usernames between polls.
type SenderCache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
}

// HTTPBridge implements models.ChatBridge against the gateway's JSON API.
type HTTPBridge struct {
	baseURL string
	token   string
	client  *http.Client
	limiter *rate.Limiter
	senders SenderCache

	// timeout bounds each JSON call; mediaTimeout bounds a whole attachment download.
	timeout      time.Duration
	mediaTimeout time.Duration
}

// BridgeOption configures the HTTPBridge.
type BridgeOption func(*HTTPBridge)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) BridgeOption {
	return func(b *HTTPBridge) {
		b.client = client
	}
}

// WithSendRate limits outgoing messages to perMinute, with no burst beyond one.
func WithSendRate(perMinute int) BridgeOption {
	return func(b *HTTPBridge) {
		if perMinute > 0 {
			b.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
		}
	}
}

// WithMediaTimeout bounds an attachment download, body included.
func WithMediaTimeout(d time.Duration) BridgeOption {
	return func(b *HTTPBridge) {
		if d > 0 {
			b.mediaTimeout = d
		}
	}
}

// WithSenderCache caches sender lookups.
func WithSenderCache(c SenderCache) BridgeOption {
	return func(b *HTTPBridge) {
		b.senders = c
	}
}

// NewHTTPBridge creates a gateway client. timeout applies per JSON request;
// attachment downloads use the media timeout instead.
func NewHTTPBridge(baseURL, token string, timeout time.Duration, opts ...BridgeOption) *HTTPBridge {
	b := &HTTPBridge{
		baseURL:      strings.TrimRight(baseURL, "/"),
		token:        token,
		client:       &http.Client{},
		limiter:      rate.NewLimiter(rate.Inf, 1),
		timeout:      timeout,
		mediaTimeout: defaultMediaTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *HTTPBridge) Send(ctx context.Context, peer, text string) (int64, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("%w: send throttled: %v", ErrBridgeTimeout, err)
	}

	body, err := json.Marshal(sendRequest{Text: text})
	if err != nil {
		return 0, fmt.Errorf("encoding message: %w", err)
	}

	var resp sendResponse
	if err := b.doJSON(ctx, http.MethodPost, b.peerURL(peer, "messages"), bytes.NewReader(body), &resp); err != nil {
		return 0, err
	}
	if resp.ID <= 0 {
		return 0, fmt.Errorf("%w: gateway returned no message id", ErrBridgeRequest)
	}
	return resp.ID, nil
}

func (b *HTTPBridge) FetchRecent(ctx context.Context, peer string, limit int) ([]models.ChatMessage, error) {
	u := b.peerURL(peer, "messages") + "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()

	var resp historyResponse
	if err := b.doJSON(ctx, http.MethodGet, u, nil, &resp); err != nil {
		return nil, err
	}

	msgs := make([]models.ChatMessage, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		msgs = append(msgs, m.toModel())
	}
	return msgs, nil
}

func (b *HTTPBridge) ResolveSender(ctx context.Context, msg models.ChatMessage) (string, error) {
	if msg.SenderID == "" {
		return "", fmt.Errorf("%w: message %d has no sender", ErrBridgeRequest, msg.ID)
	}
	key := cache.SenderKey(msg.SenderID)
	if b.senders != nil {
		if v, found, err := b.senders.Get(ctx, key); err == nil && found {
			return string(v), nil
		}
	}

	var resp userResponse
	u := fmt.Sprintf("%s/v1/users/%s", b.baseURL, url.PathEscape(msg.SenderID))
	if err := b.doJSON(ctx, http.MethodGet, u, nil, &resp); err != nil {
		return "", err
	}

	if b.senders != nil && resp.Username != "" {
		_ = b.senders.Set(ctx, key, []byte(resp.Username), senderCacheTTL)
	}
	return resp.Username, nil
}

func (b *HTTPBridge) FetchAttachment(ctx context.Context, peer string, msgID int64, dest string) (int64, error) {
	ctx, cancel := withDeadline(ctx, b.mediaTimeout)
	defer cancel()

	u := b.peerURL(peer, "messages", strconv.FormatInt(msgID, 10), "media")
	req, err := b.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return 0, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: media status %d", ErrBridgeRequest, resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dest, err)
	}
	n, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(dest)
		if copyErr != nil {
			return 0, classifyError(copyErr)
		}
		return 0, fmt.Errorf("close %s: %w", dest, closeErr)
	}
	return n, nil
}

// Ready checks that the gateway answers.
func (b *HTTPBridge) Ready(ctx context.Context) error {
	ctx, cancel := withDeadline(ctx, b.timeout)
	defer cancel()

	req, err := b.newRequest(ctx, http.MethodGet, b.baseURL+"/v1/health", nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBridgeUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: gateway not ready (status %d)", ErrBridgeUnreachable, resp.StatusCode)
	}
	return nil
}

func (b *HTTPBridge) peerURL(peer string, parts ...string) string {
	segs := []string{b.baseURL, "v1", "peers", url.PathEscape(strings.TrimPrefix(peer, "@"))}
	return strings.Join(append(segs, parts...), "/")
}

func (b *HTTPBridge) newRequest(ctx context.Context, method, u string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (b *HTTPBridge) doJSON(ctx context.Context, method, u string, body io.Reader, out any) error {
	ctx, cancel := withDeadline(ctx, b.timeout)
	defer cancel()

	req, err := b.newRequest(ctx, method, u, body)
	if err != nil {
		return err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrBridgeRequest, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrBridgeRequest, err)
	}
	return nil
}

func withDeadline(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrBridgeTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrBridgeTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrBridgeUnreachable, err)
}

// --- Gateway wire types ---

type sendRequest struct {
	Text string `json:"text"`
}

type sendResponse struct {
	ID int64 `json:"id"`
}

type historyResponse struct {
	Messages []wireMessage `json:"messages"`
}

type wireMessage struct {
	ID       int64     `json:"id"`
	SenderID string    `json:"sender_id"`
	Outgoing bool      `json:"out"`
	Text     string    `json:"text"`
	Media    string    `json:"media"`
	Date     time.Time `json:"date"`
}

func (m wireMessage) toModel() models.ChatMessage {
	kind := models.MediaKind(m.Media)
	switch kind {
	case models.MediaNone, models.MediaPhoto, models.MediaVideo, models.MediaDocument:
	default:
		kind = models.MediaOther
	}
	return models.ChatMessage{
		ID:       m.ID,
		SenderID: m.SenderID,
		Outgoing: m.Outgoing,
		Text:     m.Text,
		Media:    kind,
		Date:     m.Date,
	}
}

type userResponse struct {
	Username string `json:"username"`
}

// IsTransport reports whether err came from the gateway transport.
func IsTransport(err error) bool {
	return errors.Is(err, ErrBridgeUnreachable) || errors.Is(err, ErrBridgeRequest) || errors.Is(err, ErrBridgeTimeout)
}

// Compile-time check that HTTPBridge implements models.ChatBridge.
var _ models.ChatBridge = (*HTTPBridge)(nil)
