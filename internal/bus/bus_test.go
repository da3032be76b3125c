// ABOUTME: Tests for the event bus
// ABOUTME: Covers fan-out ordering, slow subscriber eviction and targeted sends
package bus

import (
	"fmt"
	"sync"
	"testing"

	"github.com/AutoBreezeBeats/breezebeats/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(sub *Subscription) []protocol.Event {
	var out []protocol.Event
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestPublishFanOutInOrder(t *testing.T) {
	b := New(nil)

	const sessions = 5
	subs := make([]*Subscription, sessions)
	for i := range subs {
		subs[i] = b.Register(fmt.Sprintf("s%d", i))
	}

	for i := 0; i < 10; i++ {
		b.Publish(protocol.Warning(fmt.Sprintf("event %d", i)))
	}

	for _, sub := range subs {
		got := drain(sub)
		require.Len(t, got, 10)
		for i, ev := range got {
			assert.Equal(t, protocol.EventWarning, ev.Type)
			assert.Equal(t, protocol.Notice{Message: fmt.Sprintf("event %d", i)}, ev.Payload)
		}
	}
}

func TestRegisterInitialEventsComeFirst(t *testing.T) {
	b := New(nil)
	hello := protocol.NewEvent(protocol.EventHello, protocol.Hello{SessionID: "x"})

	sub := b.Register("late", hello)
	b.Publish(protocol.Warning("after"))

	got := drain(sub)
	require.Len(t, got, 2)
	assert.Equal(t, protocol.EventHello, got[0].Type)
	assert.Equal(t, protocol.EventWarning, got[1].Type)
}

func TestFullSubscriberIsDroppedWithoutBlockingOthers(t *testing.T) {
	b := New(nil, WithBuffer(2))

	slow := b.Register("slow")
	fast := b.Register("fast")

	for i := 0; i < 3; i++ {
		b.Publish(protocol.Warning(fmt.Sprintf("e%d", i)))
		drain(fast)
	}

	assert.Equal(t, 1, b.Len())

	got := drain(slow)
	assert.Len(t, got, 2)
	_, ok := <-slow.Events()
	assert.False(t, ok, "dropped subscriber channel should be closed")

	b.Publish(protocol.Warning("still flowing"))
	assert.Len(t, drain(fast), 1)
}

func TestSendToTargetsOneSubscriber(t *testing.T) {
	b := New(nil)
	a := b.Register("a")
	other := b.Register("b")

	ok := b.SendTo(a, protocol.Warning("only a"))
	require.True(t, ok)

	assert.Len(t, drain(a), 1)
	assert.Empty(t, drain(other))
}

func TestUnregisterIsIdempotent(t *testing.T) {
	b := New(nil)
	sub := b.Register("x")

	b.Unregister(sub)
	b.Unregister(sub)
	b.Unregister(nil)

	assert.Equal(t, 0, b.Len())
	assert.False(t, b.SendTo(sub, protocol.Warning("gone")))

	// Publishing after unregister must not panic on the closed channel
	b.Publish(protocol.Warning("nobody listening"))
}

func TestConcurrentPublishAndMembership(t *testing.T) {
	b := New(nil, WithBuffer(1000))
	keeper := b.Register("keeper")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.Publish(protocol.Warning("x"))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s := b.Register("churn")
				b.Unregister(s)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, drain(keeper), 200)
	assert.Equal(t, 1, b.Len())
}
