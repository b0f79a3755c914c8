package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/tryon-orchestrator/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects delivered messages.
type recorder struct {
	mu   sync.Mutex
	msgs []domain.Message
}

func (r *recorder) handle(_ context.Context, msg domain.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) snapshot() []domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Message, len(r.msgs))
	copy(out, r.msgs)
	return out
}

func (r *recorder) len() int {
	return len(r.snapshot())
}

func selectMsg(t *testing.T, id string) domain.Message {
	t.Helper()
	msg, err := domain.NewSelectItem("", domain.Garment{ID: id, Name: "item-" + id})
	require.NoError(t, err)
	return msg
}

func TestPublishReachesOtherEndpointsOnly(t *testing.T) {
	hub := NewHub()
	operator := hub.Join(DefaultChannel)
	customer := hub.Join(DefaultChannel)
	defer operator.Close()
	defer customer.Close()

	var own, peer recorder
	operator.Subscribe(own.handle)
	customer.Subscribe(peer.handle)

	require.NoError(t, operator.Publish(context.Background(), domain.NewCloseScreen("")))

	require.Eventually(t, func() bool { return peer.len() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, own.len(), "publisher must not receive its own message")
}

func TestChannelsDoNotCrossTalk(t *testing.T) {
	hub := NewHub()
	a := hub.Join("store-a")
	b := hub.Join("store-b")
	aPeer := hub.Join("store-a")
	defer a.Close()
	defer b.Close()
	defer aPeer.Close()

	var bRec, aRec recorder
	b.Subscribe(bRec.handle)
	aPeer.Subscribe(aRec.handle)

	require.NoError(t, a.Publish(context.Background(), domain.NewScreenClosed("")))

	require.Eventually(t, func() bool { return aRec.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, bRec.len())
}

func TestSameOriginOrderIsPreserved(t *testing.T) {
	hub := NewHub(WithQueueSize(256))
	pub := hub.Join(DefaultChannel)
	sub := hub.Join(DefaultChannel)
	defer pub.Close()
	defer sub.Close()

	var rec recorder
	sub.Subscribe(rec.handle)

	ids := []string{"1", "2", "3", "4", "5", "6", "7", "8"}
	for _, id := range ids {
		require.NoError(t, pub.Publish(context.Background(), selectMsg(t, id)))
	}

	require.Eventually(t, func() bool { return rec.len() == len(ids) }, time.Second, 5*time.Millisecond)
	for i, msg := range rec.snapshot() {
		g, err := msg.Garment()
		require.NoError(t, err)
		assert.Equal(t, ids[i], g.ID)
	}
}

func TestLateSubscriberSeesNothingEarlier(t *testing.T) {
	hub := NewHub()
	pub := hub.Join(DefaultChannel)
	sub := hub.Join(DefaultChannel)
	defer pub.Close()
	defer sub.Close()

	require.NoError(t, pub.Publish(context.Background(), domain.NewCloseScreen("")))

	var rec recorder
	sub.Subscribe(rec.handle)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, rec.len())
}

func TestPanickingHandlerStaysSubscribed(t *testing.T) {
	hub := NewHub()
	pub := hub.Join(DefaultChannel)
	sub := hub.Join(DefaultChannel)
	defer pub.Close()
	defer sub.Close()

	var rec recorder
	first := true
	sub.Subscribe(func(ctx context.Context, msg domain.Message) {
		if first {
			first = false
			panic("bad payload")
		}
		rec.handle(ctx, msg)
	})

	require.NoError(t, pub.Publish(context.Background(), domain.NewCloseScreen("")))
	require.NoError(t, pub.Publish(context.Background(), domain.NewScreenClosed("")))

	require.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.MsgScreenClosed, rec.snapshot()[0].Type)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub()
	pub := hub.Join(DefaultChannel)
	sub := hub.Join(DefaultChannel)
	defer pub.Close()
	defer sub.Close()

	var rec recorder
	unsubscribe := sub.Subscribe(rec.handle)
	unsubscribe()
	unsubscribe()

	require.NoError(t, pub.Publish(context.Background(), domain.NewCloseScreen("")))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, rec.len())
}

func TestPublishRejectsInvalidAndClosed(t *testing.T) {
	hub := NewHub()
	ep := hub.Join(DefaultChannel)

	err := ep.Publish(context.Background(), domain.Message{Type: "NOPE"})
	assert.ErrorIs(t, err, domain.ErrProtocolViolation)

	require.NoError(t, ep.Close())
	require.NoError(t, ep.Close())
	assert.ErrorIs(t, ep.Publish(context.Background(), domain.NewCloseScreen("")), ErrClosed)
	assert.Equal(t, 0, hub.Members(DefaultChannel))
}

func TestFullQueueDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub(WithQueueSize(1))
	pub := hub.Join(DefaultChannel)
	sub := hub.Join(DefaultChannel)
	defer pub.Close()
	defer sub.Close()

	release := make(chan struct{})
	var rec recorder
	sub.Subscribe(func(ctx context.Context, msg domain.Message) {
		<-release
		rec.handle(ctx, msg)
	})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			_ = pub.Publish(context.Background(), domain.NewCloseScreen(""))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	close(release)

	require.Eventually(t, func() bool { return rec.len() >= 1 }, time.Second, 5*time.Millisecond)
	assert.Less(t, rec.len(), 10)
}

func TestFlushWaitsForQueuedDeliveries(t *testing.T) {
	hub := NewHub()
	pub := hub.Join(DefaultChannel)
	sub := hub.Join(DefaultChannel)
	defer pub.Close()
	defer sub.Close()

	release := make(chan struct{})
	var rec recorder
	sub.Subscribe(func(ctx context.Context, msg domain.Message) {
		<-release
		rec.handle(ctx, msg)
	})

	require.NoError(t, pub.Publish(context.Background(), domain.NewCloseScreen("")))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, hub.Flush(ctx, DefaultChannel), context.DeadlineExceeded)

	close(release)
	ctx, cancel = context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, hub.Flush(ctx, DefaultChannel))
	assert.Equal(t, 1, rec.len())
	assert.NoError(t, hub.Flush(context.Background(), "empty"))
}
