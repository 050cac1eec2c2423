package transport

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ChatID is the canonical messaging-platform identity of a chat or user.
//
// It is parsed once at the transport boundary and compared typed everywhere
// else; never compare chat ids through their string form.
type ChatID int64

var ErrInvalidChatID = errors.New("invalid chat id")

// ParseChatID parses a decimal chat id (config values, env vars, CLI flags).
func ParseChatID(raw string) (ChatID, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidChatID)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidChatID, raw)
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: zero", ErrInvalidChatID)
	}
	return ChatID(n), nil
}

func (id ChatID) String() string { return strconv.FormatInt(int64(id), 10) }

func (id ChatID) IsZero() bool { return id == 0 }

// Message is an inbound chat message.
// FromID is zero when the platform did not report a sender.
type Message struct {
	ID           int
	ChatID       ChatID
	FromID       ChatID
	FromUsername string
	Text         string
}

// Update is one entry of the bot's inbound stream.
// Message is nil for update kinds this bot does not consume.
type Update struct {
	ID      int64
	Message *Message
}

// Sender delivers a text message to a chat.
type Sender interface {
	Send(ctx context.Context, to ChatID, text string) error
}

// Poller fetches inbound updates with update id >= offset.
type Poller interface {
	Poll(ctx context.Context, offset int64) ([]Update, error)
}

// Bot is the full messaging transport consumed by the publish and receive loops.
type Bot interface {
	Sender
	Poller
}
