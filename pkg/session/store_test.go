package session

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonlabs/mcpchat/pkg/mcpconn"
)

func TestStoreReplaceAndCurrent(t *testing.T) {
	t.Parallel()

	store := NewStore()
	assert.Empty(t, store.Current().Servers)

	next := Snapshot([]mcpconn.Summary{readyConn("a", "https://a.example", "forecast")})
	store.Replace(next)

	got := store.Current()
	require.Len(t, got.Servers, 1)
	require.Len(t, got.Tools, 1)
}

func TestStoreSubscribeReceivesSnapshots(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ch, cancel := store.Subscribe()
	defer cancel()

	// The current snapshot arrives first.
	initial := <-ch
	assert.Empty(t, initial.Servers)

	store.Replace(Snapshot([]mcpconn.Summary{readyConn("a", "https://a.example")}))
	update := <-ch
	require.Len(t, update.Servers, 1)
}

func TestStoreSlowSubscriberConvergesOnLatest(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ch, cancel := store.Subscribe()
	defer cancel()

	// Push far more snapshots than the buffer holds without reading any.
	for i := 0; i < subscriberBuffer*3; i++ {
		store.Replace(Snapshot([]mcpconn.Summary{
			readyConn("a", fmt.Sprintf("https://a.example/%d", i)),
		}))
	}

	var last State
	for {
		select {
		case s := <-ch:
			last = s
			continue
		default:
		}
		break
	}
	url := last.Servers["a"].URL
	assert.Equal(t, fmt.Sprintf("https://a.example/%d", subscriberBuffer*3-1), url,
		"older snapshots are dropped, never the newest")
}

func TestStoreCancelClosesChannel(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ch, cancel := store.Subscribe()
	cancel()
	cancel() // idempotent

	// Drain the initial snapshot, then observe the close.
	for range ch {
	}

	// A replace after cancel must not panic on the closed channel.
	store.Replace(Snapshot(nil))
}
