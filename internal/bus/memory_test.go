package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBus_PublishSubscribe(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	received := make(chan *Message, 1)
	sub, err := b.Subscribe(context.Background(), "invoker.exec-1.job-1", func(msg *Message) {
		received <- msg
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, b.Publish(context.Background(), "invoker.exec-1.job-1", []byte("payload")))

	select {
	case msg := <-received:
		assert.Equal(t, "invoker.exec-1.job-1", msg.Subject)
		assert.Equal(t, []byte("payload"), msg.Data)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestMemoryBus_PublishAfterCloseErrors(t *testing.T) {
	b := NewMemoryBus()
	require.NoError(t, b.Close())
	err := b.Publish(context.Background(), "x", nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	received := make(chan *Message, 4)
	sub, err := b.Subscribe(context.Background(), "subj", func(msg *Message) {
		received <- msg
	})
	require.NoError(t, err)
	require.NoError(t, sub.Unsubscribe())

	require.NoError(t, b.Publish(context.Background(), "subj", []byte("a")))

	select {
	case <-received:
		t.Fatal("handler should not run after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCompletionSubject(t *testing.T) {
	assert.Equal(t, "invoker.exec-1.job-1", CompletionSubject("exec-1", "job-1"))
}
