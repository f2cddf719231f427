package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishPreservesOrderPerTopic(t *testing.T) {
	b := New(64)

	var mu sync.Mutex
	var seen []string
	require.NoError(t, b.Subscribe(TopicBotStatusChanged, func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e.(BotLifecycleEvent).BotID)
	}))

	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, b.Publish(BotLifecycleEvent{Kind: TopicBotStatusChanged, BotID: id}))
	}
	b.Close()

	assert.Equal(t, []string{"a", "b", "c", "d"}, seen)
}

func TestHandlersRunInRegistrationOrder(t *testing.T) {
	b := New(8)

	var mu sync.Mutex
	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		require.NoError(t, b.Subscribe(TopicHardPull, func(Event) {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, i)
		}))
	}

	require.NoError(t, b.Publish(RiskActionEvent{Action: "hard_pull"}))
	b.Close()

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestPublishDropsWhenQueueFull(t *testing.T) {
	b := New(1)
	defer b.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	var startedOnce sync.Once
	require.NoError(t, b.Subscribe(TopicSoftPull, func(Event) {
		startedOnce.Do(func() { close(started) })
		<-block
	}))

	// First event occupies the dispatcher, second fills the queue, third drops.
	require.NoError(t, b.Publish(RiskActionEvent{Action: "soft_pull"}))
	<-started
	require.NoError(t, b.Publish(RiskActionEvent{Action: "soft_pull"}))
	assert.ErrorIs(t, b.Publish(RiskActionEvent{Action: "soft_pull"}), ErrQueueFull)
	close(block)
}

func TestPublishAndSubscribeAfterClose(t *testing.T) {
	b := New(8)
	b.Close()

	assert.ErrorIs(t, b.Publish(EmergencyResetEvent{Operator: "ops"}), ErrClosed)
	assert.ErrorIs(t, b.Subscribe(TopicEmergencyReset, func(Event) {}), ErrClosed)
	// Closing twice is a no-op.
	b.Close()
}

func TestTopicsAreIndependent(t *testing.T) {
	b := New(8)

	var mu sync.Mutex
	got := map[Topic]int{}
	count := func(topic Topic) func(Event) {
		return func(Event) {
			mu.Lock()
			defer mu.Unlock()
			got[topic]++
		}
	}
	require.NoError(t, b.Subscribe(TopicBotDeployed, count(TopicBotDeployed)))
	require.NoError(t, b.Subscribe(TopicAlertGenerated, count(TopicAlertGenerated)))

	require.NoError(t, b.Publish(BotLifecycleEvent{Kind: TopicBotDeployed, BotID: "x"}))
	require.NoError(t, b.Publish(AlertEvent{AlertID: "a", CreatedAt: time.Now()}))
	require.NoError(t, b.Publish(AlertEvent{AlertID: "b", CreatedAt: time.Now()}))
	b.Close()

	assert.Equal(t, 1, got[TopicBotDeployed])
	assert.Equal(t, 2, got[TopicAlertGenerated])
}
