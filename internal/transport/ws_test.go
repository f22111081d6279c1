package transport

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) string {
	t.Helper()
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialTestWS(t *testing.T, url string) *WS {
	t.Helper()
	w, err := DialWS(context.Background(), url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

func TestWS_BroadcastThroughHub(t *testing.T) {
	url := startHub(t)
	a := dialTestWS(t, url)
	b := dialTestWS(t, url)

	ch, cancel, err := b.Subscribe("ops")
	require.NoError(t, err)
	defer cancel()

	// Give the hub a beat to register both connections.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, a.Broadcast(context.Background(), "ops", []byte("over the wire")))

	assert.Equal(t, []byte("over the wire"), recvFrame(t, ch))
}

func TestWS_HubDoesNotEchoToSender(t *testing.T) {
	url := startHub(t)
	a := dialTestWS(t, url)

	ch, cancel, err := a.Subscribe("ops")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, a.Broadcast(context.Background(), "ops", []byte("echo?")))

	select {
	case data := <-ch:
		t.Fatalf("sender received its own frame: %q", data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWS_TopicIsolation(t *testing.T) {
	url := startHub(t)
	a := dialTestWS(t, url)
	b := dialTestWS(t, url)

	chOther, cancel, err := b.Subscribe("other")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, a.Broadcast(context.Background(), "ops", []byte("x")))

	select {
	case data := <-chOther:
		t.Fatalf("frame crossed topics: %q", data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWS_FanOutToMultiplePeers(t *testing.T) {
	url := startHub(t)
	a := dialTestWS(t, url)
	b := dialTestWS(t, url)
	c := dialTestWS(t, url)

	chB, cancelB, err := b.Subscribe("ops")
	require.NoError(t, err)
	defer cancelB()
	chC, cancelC, err := c.Subscribe("ops")
	require.NoError(t, err)
	defer cancelC()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, a.Broadcast(context.Background(), "ops", []byte("all")))

	assert.Equal(t, []byte("all"), recvFrame(t, chB))
	assert.Equal(t, []byte("all"), recvFrame(t, chC))
}

func TestWS_ClosedRejectsUse(t *testing.T) {
	url := startHub(t)
	w := dialTestWS(t, url)
	require.NoError(t, w.Close())

	assert.Error(t, w.Broadcast(context.Background(), "ops", []byte("x")))
	_, _, err := w.Subscribe("ops")
	assert.Error(t, err)
}

// Cancelling a subscription while the read pump is dispatching inbound
// frames must not panic the pump.
func TestWS_CancelDuringDeliveryChurn(t *testing.T) {
	url := startHub(t)
	a := dialTestWS(t, url)
	b := dialTestWS(t, url)

	time.Sleep(50 * time.Millisecond)

	stop := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				if err := a.Broadcast(context.Background(), "ops", []byte("frame")); err != nil {
					return
				}
			}
		}
	}()

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				ch, cancel, err := b.Subscribe("ops")
				if err != nil {
					return
				}
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

func TestDialWS_BadAddress(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := DialWS(ctx, "ws://127.0.0.1:1/sync", nil)
	assert.Error(t, err)
}
