package channel

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/musterbot/muster/internal/bus"
	"github.com/musterbot/muster/internal/config"
	"github.com/musterbot/muster/internal/roster"
)

func newTestTelegram(apiBase string) (*Telegram, *bus.Bus) {
	b := bus.New()
	tg := NewTelegram(config.TelegramConfig{Token: "test-token"}, "/all", b)
	if apiBase != "" {
		tg.apiBase = apiBase
	}
	return tg, b
}

func takeEvent(t *testing.T, b *bus.Bus) bus.Event {
	t.Helper()
	select {
	case evt := <-b.Inbound:
		return evt
	default:
		t.Fatal("expected an event, inbound queue is empty")
		return nil
	}
}

func assertNoEvent(t *testing.T, b *bus.Bus) {
	t.Helper()
	select {
	case evt := <-b.Inbound:
		t.Fatalf("unexpected event: %#v", evt)
	default:
	}
}

func groupChat(id int64) tgChat {
	return tgChat{ID: id, Type: "supergroup", Title: "testers"}
}

func TestHandleMessagePublishesMessageReceived(t *testing.T) {
	tg, b := newTestTelegram("")

	tg.handleMessage(context.Background(), &tgMessage{
		MessageID: 42,
		From:      &tgUser{ID: 7, FirstName: "Alice", Username: "alice"},
		Chat:      groupChat(-100),
		Text:      "hello there",
	})

	evt := takeEvent(t, b)
	msg, ok := evt.(bus.MessageReceived)
	require.True(t, ok)
	assert.Equal(t, bus.Origin{Channel: "telegram", Conversation: "-100"}, msg.Origin)
	assert.Equal(t, "7", msg.UserID)
	assert.Equal(t, "Alice", msg.Handle)
	assert.Equal(t, "hello there", msg.Text)
	assert.Equal(t, "42", msg.MessageID)
}

func TestHandleMessageJoinAndLeave(t *testing.T) {
	tg, b := newTestTelegram("")

	tg.handleMessage(context.Background(), &tgMessage{
		MessageID: 1,
		Chat:      groupChat(-100),
		NewChatMembers: []tgUser{
			{ID: 8, FirstName: "Bob"},
			{ID: 99, IsBot: true, FirstName: "SomeBot"},
		},
	})
	joined, ok := takeEvent(t, b).(bus.MemberJoined)
	require.True(t, ok)
	assert.Equal(t, "8", joined.UserID)
	assert.Equal(t, "Bob", joined.Handle)
	// Bots never enter the roster.
	assertNoEvent(t, b)

	tg.handleMessage(context.Background(), &tgMessage{
		MessageID:      2,
		Chat:           groupChat(-100),
		LeftChatMember: &tgUser{ID: 8, FirstName: "Bob"},
	})
	left, ok := takeEvent(t, b).(bus.MemberLeft)
	require.True(t, ok)
	assert.Equal(t, "8", left.UserID)
}

func TestHandleMessageIgnoresBotsAndEmptyText(t *testing.T) {
	tg, b := newTestTelegram("")

	tg.handleMessage(context.Background(), &tgMessage{
		MessageID: 3,
		From:      &tgUser{ID: 9, IsBot: true, FirstName: "OtherBot"},
		Chat:      groupChat(-100),
		Text:      "beep",
	})
	assertNoEvent(t, b)

	tg.handleMessage(context.Background(), &tgMessage{
		MessageID: 4,
		From:      &tgUser{ID: 7, FirstName: "Alice"},
		Chat:      groupChat(-100),
	})
	assertNoEvent(t, b)
}

func TestHandleMemberUpdateStatuses(t *testing.T) {
	tg, b := newTestTelegram("")

	tg.handleMemberUpdate(&tgChatMemberUpdated{
		Chat:          groupChat(-100),
		NewChatMember: tgChatMember{Status: "member", User: tgUser{ID: 5, FirstName: "Eve"}},
	})
	_, ok := takeEvent(t, b).(bus.MemberJoined)
	assert.True(t, ok)

	tg.handleMemberUpdate(&tgChatMemberUpdated{
		Chat:          groupChat(-100),
		NewChatMember: tgChatMember{Status: "left", User: tgUser{ID: 5, FirstName: "Eve"}},
	})
	_, ok = takeEvent(t, b).(bus.MemberLeft)
	assert.True(t, ok)

	tg.handleMemberUpdate(&tgChatMemberUpdated{
		Chat:          tgChat{ID: 12, Type: "private"},
		NewChatMember: tgChatMember{Status: "member", User: tgUser{ID: 5, FirstName: "Eve"}},
	})
	assertNoEvent(t, b)
}

func TestPrivateChatCommandGetsGroupsOnlyNotice(t *testing.T) {
	var sent struct {
		ChatID int64  `json:"chat_id"`
		Text   string `json:"text"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottest-token/sendMessage", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &sent))
		w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer srv.Close()

	tg, b := newTestTelegram(srv.URL)
	tg.handleMessage(context.Background(), &tgMessage{
		MessageID: 5,
		From:      &tgUser{ID: 7, FirstName: "Alice"},
		Chat:      tgChat{ID: 7, Type: "private"},
		Text:      "/all",
	})

	assertNoEvent(t, b)
	assert.Equal(t, int64(7), sent.ChatID)
	assert.Equal(t, "This command only works in groups.", sent.Text)
}

func TestSendDeliversChunksInOrder(t *testing.T) {
	var texts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			ChatID      int64  `json:"chat_id"`
			Text        string `json:"text"`
			ParseMode   string `json:"parse_mode"`
			ReplyParams struct {
				MessageID int64 `json:"message_id"`
			} `json:"reply_parameters"`
		}
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, int64(-100), payload.ChatID)
		assert.Equal(t, "MarkdownV2", payload.ParseMode)
		assert.Equal(t, int64(42), payload.ReplyParams.MessageID)
		texts = append(texts, payload.Text)
		w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer srv.Close()

	tg, _ := newTestTelegram(srv.URL)
	err := tg.Send(context.Background(), &bus.Reply{
		Origin:  bus.Origin{Channel: "telegram", Conversation: "-100"},
		ReplyTo: "42",
		Chunks:  []string{"first", "second"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, texts)
}

func TestSendAbortsOnFirstFailedChunk(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 2 {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"ok":false,"description":"can't parse entities"}`))
			return
		}
		w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer srv.Close()

	tg, _ := newTestTelegram(srv.URL)
	err := tg.Send(context.Background(), &bus.Reply{
		Origin: bus.Origin{Channel: "telegram", Conversation: "-100"},
		Chunks: []string{"first", "second", "third"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk 2/3")
	assert.Equal(t, 2, calls)
}

func TestIsAdministrator(t *testing.T) {
	status := "administrator"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottest-token/getChatMember", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"ok":     true,
			"result": map[string]any{"status": status},
		})
	}))
	defer srv.Close()

	tg, _ := newTestTelegram(srv.URL)

	admin, err := tg.IsAdministrator(context.Background(), "-100", "7")
	require.NoError(t, err)
	assert.True(t, admin)

	status = "creator"
	admin, err = tg.IsAdministrator(context.Background(), "-100", "7")
	require.NoError(t, err)
	assert.True(t, admin)

	status = "member"
	admin, err = tg.IsAdministrator(context.Background(), "-100", "7")
	require.NoError(t, err)
	assert.False(t, admin)
}

func TestAdministratorsSkipsBots(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottest-token/getChatAdministrators", r.URL.Path)
		w.Write([]byte(`{"ok":true,"result":[
			{"status":"creator","user":{"id":7,"first_name":"Alice"}},
			{"status":"administrator","user":{"id":99,"is_bot":true,"first_name":"MusterBot"}},
			{"status":"administrator","user":{"id":8,"username":"bob"}}
		]}`))
	}))
	defer srv.Close()

	tg, _ := newTestTelegram(srv.URL)
	admins, err := tg.Administrators(context.Background(), "-100")
	require.NoError(t, err)
	assert.Equal(t, []roster.Participant{
		{ID: "7", Handle: "Alice"},
		{ID: "8", Handle: "bob"},
	}, admins)
}

func TestCallRetriesOnceOn429(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"ok":false,"description":"Too Many Requests","parameters":{"retry_after":0}}`))
			return
		}
		w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer srv.Close()

	tg, _ := newTestTelegram(srv.URL)
	err := tg.call(context.Background(), "sendMessage", map[string]any{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain words", "plain words"},
		{"a.b!c", `a\.b\!c`},
		{"_*[]()~`>#+-=|{}", "\\_\\*\\[\\]\\(\\)\\~\\`\\>\\#\\+\\-\\=\\|\\{\\}"},
		{"über café", "über café"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EscapeMarkdownV2(tt.in), "input %q", tt.in)
	}
}

func TestTelegramFormat(t *testing.T) {
	f := TelegramFormat{}

	m := f.Mention(roster.Participant{ID: "7", Handle: "Alice W."})
	assert.Equal(t, `[Alice W\.](tg://user?id=7)`, m)

	assert.Equal(t, `hi there\.`, f.Body("hi there."))
	assert.Equal(t, "||@a @b||", f.Decorate("@a @b"))
	assert.Equal(t, 4096, f.MaxLen())
}
