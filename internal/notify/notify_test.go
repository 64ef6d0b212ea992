package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishOrder(t *testing.T) {
	n := New[string]()
	var got []string
	n.Subscribe(ConnectionAdded, func(uri string) { got = append(got, "first:"+uri) })
	n.Subscribe(ConnectionAdded, func(uri string) { got = append(got, "second:"+uri) })
	n.Subscribe(ConnectionRemoved, func(uri string) { got = append(got, "removed:"+uri) })

	n.Publish(ConnectionAdded, "host-a")
	n.Publish(ConnectionRemoved, "host-a")

	assert.Equal(t, []string{"first:host-a", "second:host-a", "removed:host-a"}, got)
}

func TestReplayBeforeSubscribeReturns(t *testing.T) {
	n := New[string]()
	registered := []string{"host-a", "host-b", "host-c"}
	n.SetReplay(ConnectionAdded, func() []string { return registered })

	var got []string
	unsub := n.Subscribe(ConnectionAdded, func(uri string) { got = append(got, uri) })
	require.Equal(t, registered, got)

	n.Publish(ConnectionAdded, "host-d")
	assert.Equal(t, []string{"host-a", "host-b", "host-c", "host-d"}, got)

	unsub()
	n.Publish(ConnectionAdded, "host-e")
	assert.Len(t, got, 4)
}

func TestRemovedHasNoReplay(t *testing.T) {
	n := New[string]()
	n.SetReplay(ConnectionAdded, func() []string { return []string{"host-a"} })

	calls := 0
	n.Subscribe(ConnectionRemoved, func(string) { calls++ })
	assert.Equal(t, 0, calls)
}

func TestUnsubscribeIdempotent(t *testing.T) {
	n := New[int]()
	unsubA := n.Subscribe(ConnectionAdded, func(int) {})
	n.Subscribe(ConnectionAdded, func(int) {})
	assert.Equal(t, 2, n.Subscribers(ConnectionAdded))

	unsubA()
	unsubA()
	assert.Equal(t, 1, n.Subscribers(ConnectionAdded))
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	n := New[int]()
	var calls []string
	var unsubSelf func()
	unsubSelf = n.Subscribe(ConnectionAdded, func(int) {
		calls = append(calls, "self")
		unsubSelf()
	})
	n.Subscribe(ConnectionAdded, func(int) { calls = append(calls, "other") })

	n.Publish(ConnectionAdded, 1)
	n.Publish(ConnectionAdded, 2)
	assert.Equal(t, []string{"self", "other", "other"}, calls)
}

func TestStream(t *testing.T) {
	n := New[string]()
	n.SetReplay(ConnectionAdded, func() []string { return []string{"host-a"} })

	ch, cancel := n.Stream(4, ConnectionAdded, ConnectionRemoved)
	n.Publish(ConnectionRemoved, "host-a")

	assert.Equal(t, Event[string]{Kind: ConnectionAdded, Payload: "host-a"}, <-ch)
	assert.Equal(t, Event[string]{Kind: ConnectionRemoved, Payload: "host-a"}, <-ch)

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)

	assert.NotPanics(t, func() { n.Publish(ConnectionAdded, "late") })
}

func TestPublishWithCommitIsSeenOnce(t *testing.T) {
	n := New[string]()
	var visible []string
	n.SetReplay(ConnectionAdded, func() []string { return append([]string(nil), visible...) })

	var early []string
	n.Subscribe(ConnectionAdded, func(uri string) { early = append(early, uri) })

	n.PublishWith(ConnectionAdded, "host-a", func() { visible = append(visible, "host-a") })

	var late []string
	n.Subscribe(ConnectionAdded, func(uri string) { late = append(late, uri) })

	assert.Equal(t, []string{"host-a"}, early)
	assert.Equal(t, []string{"host-a"}, late)
}
