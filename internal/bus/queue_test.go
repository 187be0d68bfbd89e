package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOriginKey(t *testing.T) {
	o := Origin{Channel: "telegram", Conversation: "-100"}
	assert.Equal(t, "telegram:-100", o.Key())
}

func TestDispatchOutboundRoutesToBoundSender(t *testing.T) {
	b := New()
	got := make(chan *Reply, 1)
	b.Bind("telegram", func(_ context.Context, r *Reply) error {
		got <- r
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.DispatchOutbound(ctx)

	want := &Reply{
		Origin:  Origin{Channel: "telegram", Conversation: "-100"},
		ReplyTo: "42",
		Chunks:  []string{"one", "two"},
	}
	b.PublishReply(want)

	select {
	case r := <-got:
		assert.Equal(t, want, r)
	case <-time.After(2 * time.Second):
		t.Fatal("reply never delivered")
	}
}

func TestDispatchOutboundDropsUnboundChannel(t *testing.T) {
	b := New()
	got := make(chan *Reply, 1)
	b.Bind("telegram", func(_ context.Context, r *Reply) error {
		got <- r
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.DispatchOutbound(ctx)

	b.PublishReply(&Reply{Origin: Origin{Channel: "ghost"}, Chunks: []string{"lost"}})
	b.PublishReply(&Reply{Origin: Origin{Channel: "telegram"}, Chunks: []string{"kept"}})

	select {
	case r := <-got:
		// The ghost reply was dropped; only the bound one arrives.
		assert.Equal(t, []string{"kept"}, r.Chunks)
	case <-time.After(2 * time.Second):
		t.Fatal("reply never delivered")
	}
}

func TestDispatchOutboundSendsFailureNotice(t *testing.T) {
	b := New()
	var sent []*Reply
	done := make(chan struct{})
	b.Bind("telegram", func(_ context.Context, r *Reply) error {
		sent = append(sent, r)
		if len(sent) == 1 {
			return errors.New("network down")
		}
		close(done)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.DispatchOutbound(ctx)

	b.PublishReply(&Reply{
		Origin:  Origin{Channel: "telegram", Conversation: "-100"},
		ReplyTo: "42",
		Chunks:  []string{"big tag wall"},
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("failure notice never sent")
	}

	require.Len(t, sent, 2)
	notice := sent[1]
	assert.Equal(t, sent[0].Origin, notice.Origin)
	assert.Equal(t, "42", notice.ReplyTo)
	require.Len(t, notice.Chunks, 1)
	assert.NotEmpty(t, notice.Chunks[0])
}
