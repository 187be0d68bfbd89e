package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/musterbot/muster/internal/bus"
	"github.com/musterbot/muster/internal/compose"
	"github.com/musterbot/muster/internal/config"
	"github.com/musterbot/muster/internal/roster"
)

const telegramAPIBase = "https://api.telegram.org"

// Telegram implements the Telegram Bot API over HTTP long polling.
type Telegram struct {
	config  config.TelegramConfig
	trigger string
	bus     *bus.Bus

	apiBase    string
	httpClient *http.Client
	pollClient *http.Client

	cancel context.CancelFunc
	offset int64
}

// NewTelegram creates a new Telegram channel. The trigger is needed so a
// command sent in a private chat can be answered with a groups-only notice
// instead of silently vanishing.
func NewTelegram(cfg config.TelegramConfig, trigger string, b *bus.Bus) *Telegram {
	poll := cfg.PollTimeoutS
	if poll <= 0 {
		poll = 50
	}
	cfg.PollTimeoutS = poll
	return &Telegram{
		config:     cfg,
		trigger:    trigger,
		bus:        b,
		apiBase:    telegramAPIBase,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		// The long-poll request deliberately outlives the poll timeout.
		pollClient: &http.Client{Timeout: time.Duration(poll+10) * time.Second},
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start polls getUpdates and publishes events. Blocks until ctx is cancelled.
func (t *Telegram) Start(ctx context.Context) error {
	if t.config.Token == "" {
		return fmt.Errorf("telegram bot token not configured")
	}

	ctx, t.cancel = context.WithCancel(ctx)
	slog.Info("Telegram long polling started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		updates, err := t.getUpdates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("Telegram getUpdates failed, retrying in 5s", "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= t.offset {
				t.offset = u.UpdateID + 1
			}
			t.handleUpdate(ctx, u)
		}
	}
}

// Stop cancels the polling loop.
func (t *Telegram) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}
	return nil
}

// Send delivers the reply chunks in order, each as a MarkdownV2 message
// replying to the triggering message. Stops at the first failed chunk.
func (t *Telegram) Send(ctx context.Context, reply *bus.Reply) error {
	chatID, err := strconv.ParseInt(reply.Origin.Conversation, 10, 64)
	if err != nil {
		return fmt.Errorf("bad telegram chat id %q: %w", reply.Origin.Conversation, err)
	}
	replyTo, _ := strconv.ParseInt(reply.ReplyTo, 10, 64)

	for i, chunk := range reply.Chunks {
		payload := map[string]any{
			"chat_id":    chatID,
			"text":       chunk,
			"parse_mode": "MarkdownV2",
		}
		if replyTo != 0 {
			payload["reply_parameters"] = map[string]any{"message_id": replyTo}
		}
		if err := t.call(ctx, "sendMessage", payload, nil); err != nil {
			return fmt.Errorf("send chunk %d/%d: %w", i+1, len(reply.Chunks), err)
		}
	}
	return nil
}

// IsAdministrator queries getChatMember and checks for elevated status.
func (t *Telegram) IsAdministrator(ctx context.Context, convo, userID string) (bool, error) {
	var member struct {
		Status string `json:"status"`
	}
	payload := map[string]any{"chat_id": jsonID(convo), "user_id": jsonID(userID)}
	if err := t.call(ctx, "getChatMember", payload, &member); err != nil {
		return false, err
	}
	return member.Status == "creator" || member.Status == "administrator", nil
}

// Administrators lists the conversation's current admins so the roster can
// be seeded with them (they may never have posted since the bot joined).
func (t *Telegram) Administrators(ctx context.Context, convo string) ([]roster.Participant, error) {
	var members []tgChatMember
	payload := map[string]any{"chat_id": jsonID(convo)}
	if err := t.call(ctx, "getChatAdministrators", payload, &members); err != nil {
		return nil, err
	}
	var admins []roster.Participant
	for _, m := range members {
		if m.User.IsBot {
			continue
		}
		admins = append(admins, roster.Participant{
			ID:     strconv.FormatInt(m.User.ID, 10),
			Handle: m.User.DisplayName(),
		})
	}
	return admins, nil
}

// Format returns Telegram's MarkdownV2 text rules.
func (t *Telegram) Format() compose.Format { return TelegramFormat{} }

// --- wire types, decoded once at this boundary ---

type tgUpdate struct {
	UpdateID   int64                `json:"update_id"`
	Message    *tgMessage           `json:"message"`
	ChatMember *tgChatMemberUpdated `json:"chat_member"`
}

type tgMessage struct {
	MessageID      int64    `json:"message_id"`
	From           *tgUser  `json:"from"`
	Chat           tgChat   `json:"chat"`
	Text           string   `json:"text"`
	NewChatMembers []tgUser `json:"new_chat_members"`
	LeftChatMember *tgUser  `json:"left_chat_member"`
}

type tgUser struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// DisplayName returns the name used when rendering a mention.
func (u tgUser) DisplayName() string {
	if u.FirstName != "" {
		return u.FirstName
	}
	return u.Username
}

type tgChat struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title"`
}

func (c tgChat) isGroup() bool {
	return c.Type == "group" || c.Type == "supergroup"
}

type tgChatMemberUpdated struct {
	Chat          tgChat       `json:"chat"`
	NewChatMember tgChatMember `json:"new_chat_member"`
}

type tgChatMember struct {
	Status string `json:"status"`
	User   tgUser `json:"user"`
}

// presentStatuses are chat_member statuses that count as being present.
// Everything else (left, kicked) means the user is gone.
var presentStatuses = map[string]bool{
	"creator":       true,
	"administrator": true,
	"member":        true,
	"restricted":    true,
}

func (t *Telegram) handleUpdate(ctx context.Context, u tgUpdate) {
	if u.ChatMember != nil {
		t.handleMemberUpdate(u.ChatMember)
	}
	if u.Message != nil {
		t.handleMessage(ctx, u.Message)
	}
}

func (t *Telegram) handleMemberUpdate(upd *tgChatMemberUpdated) {
	if !upd.Chat.isGroup() || upd.NewChatMember.User.IsBot {
		return
	}
	origin := t.origin(upd.Chat)
	user := upd.NewChatMember.User
	if presentStatuses[upd.NewChatMember.Status] {
		t.bus.PublishEvent(bus.MemberJoined{
			Origin: origin,
			UserID: strconv.FormatInt(user.ID, 10),
			Handle: user.DisplayName(),
		})
	} else {
		t.bus.PublishEvent(bus.MemberLeft{
			Origin: origin,
			UserID: strconv.FormatInt(user.ID, 10),
		})
	}
}

func (t *Telegram) handleMessage(ctx context.Context, msg *tgMessage) {
	if !msg.Chat.isGroup() {
		// Membership only makes sense in groups. A command attempt in a
		// private chat gets a notice instead of silence.
		if strings.HasPrefix(msg.Text, t.trigger) {
			t.sendPlain(ctx, msg.Chat.ID, msg.MessageID, "This command only works in groups.")
		}
		return
	}

	origin := t.origin(msg.Chat)

	for _, user := range msg.NewChatMembers {
		if user.IsBot {
			continue
		}
		t.bus.PublishEvent(bus.MemberJoined{
			Origin: origin,
			UserID: strconv.FormatInt(user.ID, 10),
			Handle: user.DisplayName(),
		})
	}

	if left := msg.LeftChatMember; left != nil && !left.IsBot {
		t.bus.PublishEvent(bus.MemberLeft{
			Origin: origin,
			UserID: strconv.FormatInt(left.ID, 10),
		})
	}

	if msg.From != nil && !msg.From.IsBot && msg.Text != "" {
		t.bus.PublishEvent(bus.MessageReceived{
			Origin:    origin,
			UserID:    strconv.FormatInt(msg.From.ID, 10),
			Handle:    msg.From.DisplayName(),
			Text:      msg.Text,
			MessageID: strconv.FormatInt(msg.MessageID, 10),
		})
	}
}

func (t *Telegram) origin(chat tgChat) bus.Origin {
	return bus.Origin{Channel: t.Name(), Conversation: strconv.FormatInt(chat.ID, 10)}
}

func (t *Telegram) getUpdates(ctx context.Context) ([]tgUpdate, error) {
	payload := map[string]any{
		"offset":          t.offset,
		"timeout":         t.config.PollTimeoutS,
		"allowed_updates": []string{"message", "chat_member"},
	}
	var updates []tgUpdate
	if err := t.callWith(ctx, t.pollClient, "getUpdates", payload, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

func (t *Telegram) sendPlain(ctx context.Context, chatID, replyTo int64, text string) {
	payload := map[string]any{
		"chat_id":          chatID,
		"text":             text,
		"reply_parameters": map[string]any{"message_id": replyTo},
	}
	if err := t.call(ctx, "sendMessage", payload, nil); err != nil {
		slog.Warn("Telegram notice failed", "chat", chatID, "err", err)
	}
}

func (t *Telegram) call(ctx context.Context, method string, payload any, result any) error {
	return t.callWith(ctx, t.httpClient, method, payload, result)
}

// callWith posts one Bot API method call, honoring 429 retry_after once.
func (t *Telegram) callWith(ctx context.Context, client *http.Client, method string, payload any, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", method, err)
	}
	url := fmt.Sprintf("%s/bot%s/%s", t.apiBase, t.config.Token, method)

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("telegram %s: %w", method, err)
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("telegram %s: read response: %w", method, err)
		}

		var apiResp struct {
			OK          bool            `json:"ok"`
			Result      json.RawMessage `json:"result"`
			Description string          `json:"description"`
			Parameters  *struct {
				RetryAfter int `json:"retry_after"`
			} `json:"parameters"`
		}
		if err := json.Unmarshal(respBody, &apiResp); err != nil {
			return fmt.Errorf("telegram %s: bad response: %w", method, err)
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt == 0 {
			wait := time.Second
			if apiResp.Parameters != nil && apiResp.Parameters.RetryAfter > 0 {
				wait = time.Duration(apiResp.Parameters.RetryAfter) * time.Second
			}
			slog.Warn("Telegram rate limited", "method", method, "retry_after", wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
				continue
			}
		}
		if !apiResp.OK {
			return fmt.Errorf("telegram %s: %s", method, apiResp.Description)
		}
		if result != nil {
			if err := json.Unmarshal(apiResp.Result, result); err != nil {
				return fmt.Errorf("telegram %s: decode result: %w", method, err)
			}
		}
		return nil
	}
}

// jsonID turns a decimal id string back into the number Telegram expects.
func jsonID(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return s
}

// TelegramFormat renders MarkdownV2 text: mentions are tg://user links (they
// notify users with no public @username) and the mention block is wrapped in
// a spoiler so the tag wall stays collapsed.
type TelegramFormat struct{}

func (TelegramFormat) Mention(p roster.Participant) string {
	return fmt.Sprintf("[%s](tg://user?id=%s)", EscapeMarkdownV2(p.Handle), p.ID)
}

func (TelegramFormat) Body(text string) string { return EscapeMarkdownV2(text) }

func (TelegramFormat) Decorate(mentions string) string { return "||" + mentions + "||" }

func (TelegramFormat) MaxLen() int { return 4096 }

// EscapeMarkdownV2 escapes the characters MarkdownV2 treats as markup.
func EscapeMarkdownV2(text string) string {
	var sb strings.Builder
	sb.Grow(len(text) * 2)
	for _, c := range text {
		if strings.ContainsRune(`_*[]()~`+"`"+`>#+-=|{}.!`, c) {
			sb.WriteByte('\\')
		}
		sb.WriteRune(c)
	}
	return sb.String()
}
