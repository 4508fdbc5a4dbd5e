package broadcast

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHub(buffer int) *Hub {
	return NewHub(buffer, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func collect(t *testing.T, sub *Subscription, n int) []Event {
	t.Helper()
	out := make([]Event, 0, n)
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				t.Fatalf("subscription closed after %d events: %v", len(out), sub.Err())
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func TestPublish_EmptyRoomIsNoop(t *testing.T) {
	h := testHub(4)
	err := h.Publish(context.Background(), "nobody", TextAppended("r1", "hi"))
	assert.NoError(t, err)
	assert.Equal(t, 0, h.Subscribers("nobody"))
}

func TestPublish_FansOutToAllSubscribers(t *testing.T) {
	ctx := context.Background()
	h := testHub(8)
	a := h.Subscribe("c1")
	b := h.Subscribe("c1")
	defer a.Close()
	defer b.Close()

	require.NoError(t, h.Publish(ctx, "c1", ContainerCreated("r1", "hello")))
	require.NoError(t, h.Publish(ctx, "c1", TextAppended("r1", "hi")))
	require.NoError(t, h.Publish(ctx, "c1", TurnCompleted("r1")))

	for _, sub := range []*Subscription{a, b} {
		got := collect(t, sub, 3)
		assert.Equal(t, KindContainerCreated, got[0].Kind)
		assert.Equal(t, "hello", got[0].Prompt)
		assert.Equal(t, KindTextAppended, got[1].Kind)
		assert.Equal(t, "hi", got[1].Text)
		assert.Equal(t, KindTurnCompleted, got[2].Kind)
		for _, ev := range got {
			assert.Equal(t, "c1", ev.ConversationID)
			assert.Equal(t, "r1", ev.Target)
		}
	}
}

func TestSubscribe_NoReplay(t *testing.T) {
	ctx := context.Background()
	h := testHub(8)
	require.NoError(t, h.Publish(ctx, "c1", TextAppended("r1", "early")))

	sub := h.Subscribe("c1")
	defer sub.Close()
	require.NoError(t, h.Publish(ctx, "c1", TextAppended("r1", "late")))

	got := collect(t, sub, 1)
	assert.Equal(t, "late", got[0].Text)
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected extra event %+v", ev)
	default:
	}
}

func TestPublish_IsolatesConversations(t *testing.T) {
	ctx := context.Background()
	h := testHub(64)
	s1 := h.Subscribe("c1")
	s2 := h.Subscribe("c2")
	defer s1.Close()
	defer s2.Close()

	var wg sync.WaitGroup
	for _, conv := range []string{"c1", "c2"} {
		wg.Add(1)
		go func(conv string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = h.Publish(ctx, conv, TextAppended(conv+"-r", fmt.Sprintf("%s-%d", conv, i)))
			}
		}(conv)
	}
	wg.Wait()

	for conv, sub := range map[string]*Subscription{"c1": s1, "c2": s2} {
		got := collect(t, sub, 50)
		for i, ev := range got {
			assert.Equal(t, conv, ev.ConversationID)
			assert.Equal(t, fmt.Sprintf("%s-%d", conv, i), ev.Text)
		}
	}
}

func TestPublish_DisconnectsSlowSubscriber(t *testing.T) {
	ctx := context.Background()
	h := testHub(2)
	slow := h.Subscribe("c1")
	fast := h.Subscribe("c1")
	defer fast.Close()

	done := make(chan []Event)
	go func() {
		var got []Event
		for ev := range fast.Events() {
			got = append(got, ev)
			if len(got) == 5 {
				break
			}
		}
		done <- got
	}()

	for i := 0; i < 5; i++ {
		require.NoError(t, h.Publish(ctx, "c1", TextAppended("r1", fmt.Sprint(i))))
		// let the fast reader keep up
		time.Sleep(10 * time.Millisecond)
	}

	got := <-done
	require.Len(t, got, 5)
	for i, ev := range got {
		assert.Equal(t, fmt.Sprint(i), ev.Text)
	}

	// The slow subscriber keeps what it buffered, then sees its channel closed.
	var buffered []string
	for ev := range slow.Events() {
		buffered = append(buffered, ev.Text)
	}
	assert.Equal(t, []string{"0", "1"}, buffered)
	assert.ErrorIs(t, slow.Err(), ErrSlowSubscriber)
	assert.Equal(t, 1, h.Subscribers("c1"))
}

func TestSubscription_CloseIsIdempotent(t *testing.T) {
	h := testHub(2)
	sub := h.Subscribe("c1")
	assert.Equal(t, 1, h.Subscribers("c1"))

	sub.Close()
	sub.Close()

	_, ok := <-sub.Events()
	assert.False(t, ok)
	assert.ErrorIs(t, sub.Err(), ErrSubscriptionClosed)
	assert.Equal(t, 0, h.Subscribers("c1"))
}

func TestHub_Close(t *testing.T) {
	h := testHub(2)
	sub := h.Subscribe("c1")

	h.Close()

	_, ok := <-sub.Events()
	assert.False(t, ok)
	assert.ErrorIs(t, sub.Err(), ErrHubClosed)

	late := h.Subscribe("c1")
	_, ok = <-late.Events()
	assert.False(t, ok)
	assert.ErrorIs(t, late.Err(), ErrHubClosed)
}

func TestTurnFailed(t *testing.T) {
	ev := TurnFailed("r1", fmt.Errorf("backend gone"))
	assert.Equal(t, KindTurnFailed, ev.Kind)
	assert.Equal(t, "backend gone", ev.Error)
}
