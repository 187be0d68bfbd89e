// Package tracker is the event-driven core of muster: it ingests membership
// events into the roster and answers authorized tag-everyone commands.
package tracker

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/musterbot/muster/internal/bus"
	"github.com/musterbot/muster/internal/channel"
	"github.com/musterbot/muster/internal/compose"
	"github.com/musterbot/muster/internal/roster"
)

const (
	denialNotice  = "Only admins can use this command."
	emptyNotice   = "No one here is tracked yet. I learn members as they post or join."
	failureNotice = "Sorry, I couldn't process that command right now."
)

// Options configures a Tracker.
type Options struct {
	// Trigger is the command prefix, e.g. "/all".
	Trigger string
	// Timeout bounds the admin check and roster seeding for one command.
	Timeout time.Duration
}

// Binding ties a channel name to its transport capabilities.
type Binding struct {
	Caps channel.Capabilities
	// BotUsername, when set, also accepts the "<trigger>@<BotUsername>"
	// command form that group clients produce.
	BotUsername string
}

// Tracker consumes the inbound event stream. Each conversation gets its own
// worker goroutine, so events within a conversation apply in delivery order
// while conversations never block each other.
type Tracker struct {
	bus     *bus.Bus
	store   *roster.Store
	trigger string
	timeout time.Duration

	mu       sync.Mutex
	bindings map[string]Binding
	workers  map[string]chan bus.Event
	wg       sync.WaitGroup
}

// New creates a tracker over the given bus and roster store.
func New(b *bus.Bus, store *roster.Store, opts Options) *Tracker {
	trigger := opts.Trigger
	if trigger == "" {
		trigger = "/all"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Tracker{
		bus:      b,
		store:    store,
		trigger:  trigger,
		timeout:  timeout,
		bindings: make(map[string]Binding),
		workers:  make(map[string]chan bus.Event),
	}
}

// Bind registers the transport capabilities for a channel name. Commands
// arriving on unbound channels are ingested as ordinary messages only.
func (t *Tracker) Bind(channelName string, b Binding) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bindings[channelName] = b
}

// Run dispatches inbound events to per-conversation workers. Blocks until
// ctx is cancelled; workers drain and exit with it.
func (t *Tracker) Run(ctx context.Context) {
	slog.Info("Tracker started", "trigger", t.trigger)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Tracker stopping")
			t.wg.Wait()
			return
		case evt := <-t.bus.Inbound:
			t.conversationQueue(ctx, evt.From()) <- evt
		}
	}
}

func (t *Tracker) conversationQueue(ctx context.Context, origin bus.Origin) chan bus.Event {
	key := origin.Key()
	t.mu.Lock()
	defer t.mu.Unlock()
	if q, ok := t.workers[key]; ok {
		return q
	}
	q := make(chan bus.Event, 32)
	t.workers[key] = q
	t.wg.Add(1)
	go t.worker(ctx, q)
	return q
}

func (t *Tracker) worker(ctx context.Context, events chan bus.Event) {
	defer t.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-events:
			t.handle(ctx, evt)
		}
	}
}

func (t *Tracker) handle(ctx context.Context, evt bus.Event) {
	key := evt.From().Key()
	switch e := evt.(type) {
	case bus.MemberJoined:
		t.store.Upsert(key, e.UserID, e.Handle)
		slog.Debug("member joined", "conversation", key, "user", e.UserID, "handle", e.Handle)
	case bus.MemberLeft:
		t.store.Remove(key, e.UserID)
		slog.Debug("member left", "conversation", key, "user", e.UserID)
	case bus.MessageReceived:
		if body, ok := t.commandBody(e); ok {
			t.handleCommand(ctx, e, body)
			return
		}
		t.store.Upsert(key, e.UserID, e.Handle)
	default:
		slog.Warn("unhandled event type", "conversation", key)
	}
}

// commandBody matches the trigger as a case-sensitive prefix, in the bare
// form and the "@botusername" form, and returns the trailing text. An empty
// body is still a valid command.
func (t *Tracker) commandBody(e bus.MessageReceived) (string, bool) {
	if !strings.HasPrefix(e.Text, t.trigger) {
		return "", false
	}
	rest := e.Text[len(t.trigger):]
	if rest == "" {
		return "", true
	}
	switch rest[0] {
	case ' ', '\n':
		return strings.TrimSpace(rest), true
	case '@':
		bind, ok := t.binding(e.Origin.Channel)
		if !ok || bind.BotUsername == "" {
			return "", false
		}
		suffix, body, _ := strings.Cut(rest[1:], " ")
		if suffix != bind.BotUsername {
			return "", false
		}
		return strings.TrimSpace(body), true
	default:
		// Some other command sharing the prefix, e.g. "/allow".
		return "", false
	}
}

func (t *Tracker) handleCommand(ctx context.Context, e bus.MessageReceived, body string) {
	key := e.Origin.Key()
	bind, ok := t.binding(e.Origin.Channel)
	if !ok {
		slog.Warn("command on unbound channel, ignoring", "channel", e.Origin.Channel)
		return
	}

	slog.Info("tag-everyone command", "conversation", key, "user", e.UserID)

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	admin, err := bind.Caps.IsAdministrator(ctx, e.Origin.Conversation, e.UserID)
	if err != nil {
		slog.Warn("admin check failed, abandoning command", "conversation", key, "user", e.UserID, "err", err)
		t.reply(bind, e, failureNotice)
		return
	}
	if !admin {
		slog.Info("command denied: not an admin", "conversation", key, "user", e.UserID)
		t.reply(bind, e, denialNotice)
		return
	}

	// Best effort: admins may never have posted since the bot joined, but
	// the platform can enumerate them. Seeding keeps them taggable.
	if lister, ok := bind.Caps.(channel.AdminLister); ok {
		if admins, err := lister.Administrators(ctx, e.Origin.Conversation); err != nil {
			slog.Debug("admin seeding failed", "conversation", key, "err", err)
		} else {
			for _, a := range admins {
				t.store.Upsert(key, a.ID, a.Handle)
			}
		}
	}

	snapshot := t.store.Snapshot(key)
	chunks := compose.Build(bind.Caps.Format(), body, snapshot)
	if len(snapshot) == 0 {
		slog.Info("empty roster on command", "conversation", key)
		if len(chunks) == 0 {
			chunks = []string{bind.Caps.Format().Body(emptyNotice)}
		}
	}

	slog.Info("tagging roster", "conversation", key, "participants", len(snapshot), "messages", len(chunks), "text", strings.Join(chunks, "\n---\n"))
	t.bus.PublishReply(&bus.Reply{Origin: e.Origin, ReplyTo: e.MessageID, Chunks: chunks})
}

// reply sends a single-chunk notice, escaped for the channel's markup.
func (t *Tracker) reply(bind Binding, e bus.MessageReceived, text string) {
	t.bus.PublishReply(&bus.Reply{
		Origin:  e.Origin,
		ReplyTo: e.MessageID,
		Chunks:  []string{bind.Caps.Format().Body(text)},
	})
}

func (t *Tracker) binding(channelName string) (Binding, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.bindings[channelName]
	return b, ok
}
