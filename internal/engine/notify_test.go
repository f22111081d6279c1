package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftdb/driftdb/internal/op"
)

func testNotification(pk string) op.ChangeNotification {
	return op.ChangeNotification{
		Table:      "tasks",
		Kind:       op.KindUpdate,
		PrimaryKey: pk,
		Origin:     op.OriginLocal,
		Replicated: true,
	}
}

func recvNotification(t *testing.T, ch <-chan op.ChangeNotification) op.ChangeNotification {
	t.Helper()
	select {
	case c, ok := <-ch:
		require.True(t, ok, "channel closed early")
		return c
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
		return op.ChangeNotification{}
	}
}

func TestNotifier_DeliversInOrder(t *testing.T) {
	n := NewNotifier()
	defer n.Close()

	ch, cancel := n.Subscribe()
	defer cancel()

	n.Publish(testNotification("row-1"))
	n.Publish(testNotification("row-2"))
	n.Publish(testNotification("row-3"))

	assert.Equal(t, "row-1", recvNotification(t, ch).PrimaryKey)
	assert.Equal(t, "row-2", recvNotification(t, ch).PrimaryKey)
	assert.Equal(t, "row-3", recvNotification(t, ch).PrimaryKey)
}

func TestNotifier_FanOut(t *testing.T) {
	n := NewNotifier()
	defer n.Close()

	ch1, cancel1 := n.Subscribe()
	defer cancel1()
	ch2, cancel2 := n.Subscribe()
	defer cancel2()

	n.Publish(testNotification("row-1"))

	assert.Equal(t, "row-1", recvNotification(t, ch1).PrimaryKey)
	assert.Equal(t, "row-1", recvNotification(t, ch2).PrimaryKey)
}

func TestNotifier_CancelStopsDelivery(t *testing.T) {
	n := NewNotifier()
	defer n.Close()

	ch, cancel := n.Subscribe()
	cancel()

	n.Publish(testNotification("row-1"))

	// Cancelled subscriber's channel is closed, not fed.
	_, ok := <-ch
	assert.False(t, ok)
}

func TestNotifier_CloseDeliversBuffered(t *testing.T) {
	n := NewNotifier()

	ch, cancel := n.Subscribe()
	defer cancel()

	n.Publish(testNotification("row-1"))
	n.Publish(testNotification("row-2"))
	n.Close()

	assert.Equal(t, "row-1", recvNotification(t, ch).PrimaryKey)
	assert.Equal(t, "row-2", recvNotification(t, ch).PrimaryKey)
	_, ok := <-ch
	assert.False(t, ok, "channel closes after buffered delivery")
}

func TestNotifier_PublishAfterCloseIsNoOp(t *testing.T) {
	n := NewNotifier()
	n.Close()

	// Must not panic or block.
	n.Publish(testNotification("row-1"))
}

func TestNotifier_SubscribeAfterClose(t *testing.T) {
	n := NewNotifier()
	n.Close()

	ch, cancel := n.Subscribe()
	defer cancel()
	_, ok := <-ch
	assert.False(t, ok)
}

func TestNotifier_SlowSubscriberLosesNotDeadlocks(t *testing.T) {
	n := NewNotifier()
	defer n.Close()

	ch, cancel := n.Subscribe()
	defer cancel()
	_ = ch // intentionally never drained

	// Way past the subscriber buffer; Publish must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			n.Publish(testNotification("row"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	require.Eventually(t, func() bool { return n.Dropped() > 0 },
		2*time.Second, 10*time.Millisecond)
}

// Unsubscribing while notifications are flowing is routine observer
// churn; the pusher must keep delivering through it.
func TestNotifier_CancelDuringPublishChurn(t *testing.T) {
	n := NewNotifier()
	defer n.Close()

	stop := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 2000; j++ {
				select {
				case <-stop:
					return
				default:
					n.Publish(testNotification("row"))
				}
			}
		}()
	}

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				ch, cancel := n.Subscribe()
				select {
				case <-ch:
				default:
				}
				cancel()
			}
		}()
	}

	time.Sleep(200 * time.Millisecond)
	close(stop)
	wg.Wait()
}
