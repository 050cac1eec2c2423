// Package commands interprets the chat commands users send to the bot.
package commands

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"newsbot/internal/storage"
	"newsbot/internal/transport"
	logx "newsbot/pkg/logx"
)

const (
	CmdSubscribe   = "/subscribe"
	CmdUnsubscribe = "/unsubscribe"
	CmdLast        = "/last"
	CmdStart       = "/start"
	CmdHelp        = "/help"
)

// Registry is the subscription set the interpreter mutates.
type Registry interface {
	Add(ctx context.Context, chatID transport.ChatID) (bool, error)
	Remove(ctx context.Context, chatID transport.ChatID) (bool, error)
}

// LatestReader returns the newest stored article.
type LatestReader interface {
	Latest(ctx context.Context) (storage.Article, bool, error)
}

// Messages are the reply texts. "{source}" is replaced by SourceName.
type Messages struct {
	SourceName        string
	Subscribed        string
	AlreadySubscribed string
	Unsubscribed      string
	NotSubscribed     string
	NoArticles        string
	Help              string
	Failure           string
}

func DefaultMessages() Messages {
	return Messages{
		SourceName:        "Kaktus",
		Subscribed:        "You're now subscribing news from {source} operator",
		AlreadySubscribed: "You are already subscribing news from {source} operator",
		Unsubscribed:      "You were removed from subscribing news from {source} operator",
		NotSubscribed:     "You weren't subscribing news from {source} operator",
		NoArticles:        "No articles loaded yet.",
		Help: "News from {source}.\n\n" +
			CmdSubscribe + " - receive new articles\n" +
			CmdUnsubscribe + " - stop receiving articles\n" +
			CmdLast + " - show the latest article",
		Failure: "Something went wrong, please try again later.",
	}
}

// WithDefaults fills empty fields from DefaultMessages.
func (m Messages) WithDefaults() Messages {
	d := DefaultMessages()
	fill := func(dst *string, def string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = def
		}
	}
	fill(&m.SourceName, d.SourceName)
	fill(&m.Subscribed, d.Subscribed)
	fill(&m.AlreadySubscribed, d.AlreadySubscribed)
	fill(&m.Unsubscribed, d.Unsubscribed)
	fill(&m.NotSubscribed, d.NotSubscribed)
	fill(&m.NoArticles, d.NoArticles)
	fill(&m.Help, d.Help)
	fill(&m.Failure, d.Failure)
	return m
}

func (m Messages) render(s string) string {
	return strings.ReplaceAll(s, "{source}", m.SourceName)
}

type Interpreter struct {
	subs   Registry
	latest LatestReader
	sender transport.Sender
	log    logx.Logger

	// botUsername, when set, rejects commands addressed to other bots.
	botUsername string

	mu   sync.RWMutex
	msgs Messages
}

type Option func(*Interpreter)

func WithBotUsername(name string) Option {
	return func(i *Interpreter) { i.botUsername = strings.TrimPrefix(strings.TrimSpace(name), "@") }
}

func WithMessages(m Messages) Option {
	return func(i *Interpreter) { i.msgs = m.WithDefaults() }
}

func New(subs Registry, latest LatestReader, sender transport.Sender, log logx.Logger, opts ...Option) *Interpreter {
	i := &Interpreter{
		subs:   subs,
		latest: latest,
		sender: sender,
		log:    log.With(logx.String("comp", "commands")),
		msgs:   DefaultMessages(),
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// SetMessages swaps reply texts (config reload).
func (i *Interpreter) SetMessages(m Messages) {
	i.mu.Lock()
	i.msgs = m.WithDefaults()
	i.mu.Unlock()
}

func (i *Interpreter) messages() Messages {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.msgs
}

// Parse extracts the command from text. Only a bare command (optionally
// suffixed with @botname) is recognized; anything else returns "".
func (i *Interpreter) Parse(text string) string {
	cmd := strings.TrimSpace(text)
	if !strings.HasPrefix(cmd, "/") || strings.ContainsAny(cmd, " \t\n") {
		return ""
	}
	if at := strings.IndexByte(cmd, '@'); at > 0 {
		target := cmd[at+1:]
		cmd = cmd[:at]
		if i.botUsername != "" && !strings.EqualFold(target, i.botUsername) {
			return ""
		}
	}
	switch cmd {
	case CmdSubscribe, CmdUnsubscribe, CmdLast, CmdStart, CmdHelp:
		return cmd
	}
	return ""
}

// Interpret executes a recognized command and sends exactly one reply to the
// sender. Unrecognized text is ignored (handled=false, no reply).
func (i *Interpreter) Interpret(ctx context.Context, msg transport.Message) (bool, error) {
	cmd := i.Parse(msg.Text)
	if cmd == "" || msg.FromID.IsZero() {
		return false, nil
	}
	m := i.messages()
	from := msg.FromID

	var (
		reply string
		opErr error
	)
	switch cmd {
	case CmdSubscribe:
		added, err := i.subs.Add(ctx, from)
		switch {
		case err != nil:
			opErr = err
		case added:
			reply = m.render(m.Subscribed)
		default:
			reply = m.render(m.AlreadySubscribed)
		}
	case CmdUnsubscribe:
		removed, err := i.subs.Remove(ctx, from)
		switch {
		case err != nil:
			opErr = err
		case removed:
			reply = m.render(m.Unsubscribed)
		default:
			reply = m.render(m.NotSubscribed)
		}
	case CmdLast:
		a, ok, err := i.latest.Latest(ctx)
		switch {
		case err != nil:
			opErr = err
		case ok:
			reply = a.Text
		default:
			reply = m.render(m.NoArticles)
		}
	case CmdStart, CmdHelp:
		reply = m.render(m.Help)
	}

	if opErr != nil {
		reply = m.render(m.Failure)
		opErr = fmt.Errorf("%s: %w", cmd, opErr)
	} else {
		i.log.Info("command handled", logx.String("cmd", cmd), logx.Int64("from", int64(from)))
	}
	if err := i.sender.Send(ctx, from, reply); err != nil {
		i.log.Warn("reply failed", logx.String("cmd", cmd), logx.Int64("to", int64(from)), logx.Err(err))
		if opErr == nil {
			opErr = fmt.Errorf("%s reply: %w", cmd, err)
		}
	}
	return true, opErr
}
