// Package telegram implements transport.Bot on the Telegram Bot API.
//
// Inbound updates are pulled with explicit getUpdates calls so the caller
// owns the offset; telebot's own poller is never started.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"newsbot/internal/transport"
	logx "newsbot/pkg/logx"
)

const (
	DefaultAPIURL      = "https://api.telegram.org"
	DefaultPollTimeout = 50 * time.Second

	textLimit = 4000
)

type Config struct {
	Token       string
	APIURL      string
	PollTimeout time.Duration // getUpdates long-poll timeout
}

type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	menuMu   sync.Mutex
	menuHash uint64
}

var _ transport.Bot = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     strings.TrimRight(cfg.APIURL, "/"),
		Offline: true,
		// The HTTP deadline must outlive the long poll.
		Client: &http.Client{Timeout: cfg.PollTimeout + 15*time.Second},
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{cfg: cfg, log: log.With(logx.String("comp", "telegram")), bot: b}, nil
}

// raw calls a Bot API method. telebot has no per-call context, so a canceled
// ctx returns early and the request finishes in the background within the
// client timeout.
func (a *Adapter) raw(ctx context.Context, method string, payload any) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := a.bot.Raw(method, payload)
		ch <- result{data, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("telegram %s: %w", method, r.err)
		}
		return r.data, nil
	}
}

// Poll long-polls getUpdates from offset. Only message updates are requested.
func (a *Adapter) Poll(ctx context.Context, offset int64) ([]transport.Update, error) {
	data, err := a.raw(ctx, "getUpdates", map[string]any{
		"offset":          offset,
		"timeout":         int(a.cfg.PollTimeout / time.Second),
		"allowed_updates": []string{"message"},
	})
	if err != nil {
		return nil, err
	}
	var resp struct {
		Result []tele.Update `json:"result"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("telegram getUpdates: decode: %w", err)
	}

	out := make([]transport.Update, 0, len(resp.Result))
	for _, u := range resp.Result {
		out = append(out, transport.Update{ID: int64(u.ID), Message: convertMessage(u.Message)})
	}
	return out, nil
}

func convertMessage(m *tele.Message) *transport.Message {
	if m == nil {
		return nil
	}
	msg := &transport.Message{ID: m.ID, Text: m.Text}
	if m.Chat != nil {
		msg.ChatID = transport.ChatID(m.Chat.ID)
	}
	if m.Sender != nil {
		msg.FromID = transport.ChatID(m.Sender.ID)
		msg.FromUsername = m.Sender.Username
	}
	return msg
}

// Send delivers text, split into chunks Telegram accepts.
func (a *Adapter) Send(ctx context.Context, to transport.ChatID, text string) error {
	if to.IsZero() {
		return transport.ErrInvalidChatID
	}
	chat := &tele.Chat{ID: int64(to)}
	for _, chunk := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := a.bot.Send(chat, chunk, &tele.SendOptions{DisableWebPagePreview: true}); err != nil {
			return fmt.Errorf("telegram send to %s: %w", to, err)
		}
	}
	return nil
}

// Username returns the bot's @username via getMe.
func (a *Adapter) Username(ctx context.Context) (string, error) {
	data, err := a.raw(ctx, "getMe", map[string]any{})
	if err != nil {
		return "", err
	}
	var resp struct {
		Result tele.User `json:"result"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("telegram getMe: decode: %w", err)
	}
	return resp.Result.Username, nil
}

type Command struct {
	Command     string `json:"command"`
	Description string `json:"description"`
}

// SetCommands publishes the command menu. It only calls the API when the
// list changed since the last successful call.
func (a *Adapter) SetCommands(ctx context.Context, cmds []Command) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	h := fnv.New64a()
	list := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		c.Command = strings.TrimPrefix(c.Command, "/")
		if c.Command == "" {
			continue
		}
		if c.Description == "" {
			c.Description = c.Command
		}
		h.Write([]byte(c.Command))
		h.Write([]byte{0})
		h.Write([]byte(c.Description))
		h.Write([]byte{0})
		list = append(list, c)
	}
	sum := h.Sum64()
	if sum == a.menuHash {
		return nil
	}
	if _, err := a.raw(ctx, "setMyCommands", map[string]any{"commands": list}); err != nil {
		return err
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(list)))
	return nil
}

// splitText cuts s into chunks of at most limit runes, preferring newline
// boundaries.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// Avoid tiny chunks.
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
