// Package models contains shared data models used across the video jobs codebase.
package models

import (
	"context"
	"time"
)

// MediaKind classifies the attachment carried by a chat message.
type MediaKind string

const (
	MediaNone     MediaKind = ""
	MediaPhoto    MediaKind = "photo"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
	MediaOther    MediaKind = "other"
)

// ChatMessage is one entry of the chat feed shared with the generation bot.
type ChatMessage struct {
	ID       int64     `json:"id"`
	SenderID string    `json:"sender_id,omitempty"`
	Outgoing bool      `json:"outgoing"`
	Text     string    `json:"text,omitempty"`
	Media    MediaKind `json:"media,omitempty"`
	Date     time.Time `json:"date"`
}

// ChatBridge is the capability interface over the authenticated chat session.
// Message identifiers are monotonically increasing within a peer's feed.
type ChatBridge interface {
	// Send posts text to peer and returns the new message's identifier.
	Send(ctx context.Context, peer, text string) (int64, error)
	// FetchRecent returns up to limit of the most recent messages exchanged with peer.
	FetchRecent(ctx context.Context, peer string, limit int) ([]ChatMessage, error)
	// ResolveSender returns the username of the message author.
	ResolveSender(ctx context.Context, msg ChatMessage) (string, error)
	// FetchAttachment writes the attachment of message msgID to dest and returns the bytes written.
	FetchAttachment(ctx context.Context, peer string, msgID int64, dest string) (int64, error)
}

// UploadResult is the durable reference returned by an Uploader.
type UploadResult struct {
	FileID         string `json:"file_id"`
	WebViewLink    string `json:"web_view_link,omitempty"`
	WebContentLink string `json:"web_content_link,omitempty"`
}

// Uploader persists a local file into durable storage. An empty folderID
// selects the uploader's default folder.
type Uploader interface {
	Upload(ctx context.Context, localPath, name, folderID string) (UploadResult, error)
}
