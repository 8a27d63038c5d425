package services

import (
	"encoding/json"
	"sync"
	"testing"

	"styler/types"
)

func testClient(id string, buffer int) *WSClient {
	return &WSClient{id: id, send: make(chan []byte, buffer)}
}

func TestHub_SendTo(t *testing.T) {
	h := NewHub()
	c := testClient("s1", 1)
	h.Add(c)

	h.SendTo("s1", WSEvent{Type: "notice", SessionID: "s1", Notice: &types.NoticeView{ID: "n1", Message: "hi", Severity: "info"}})
	h.SendTo("nobody", WSEvent{Type: "notice"})

	var got WSEvent
	if err := json.Unmarshal(<-c.send, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != "notice" || got.Notice == nil || got.Notice.Message != "hi" || got.Job != nil {
		t.Fatalf("event = %+v", got)
	}

	t.Run("slow_client_dropped", func(t *testing.T) {
		h.SendTo("s1", WSEvent{Type: "a"})
		h.SendTo("s1", WSEvent{Type: "b"})
		if h.Connected("s1") {
			t.Fatalf("slow client still registered")
		}
		<-c.send
		if _, ok := <-c.send; ok {
			t.Fatalf("send channel not closed")
		}
	})
}

func TestHub_ReplaceAndRemove(t *testing.T) {
	h := NewHub()
	old := testClient("s1", 1)
	cur := testClient("s1", 1)
	h.Add(old)
	h.Add(cur)

	if _, ok := <-old.send; ok {
		t.Fatalf("replaced client channel not closed")
	}

	// A replaced client's disconnect must not evict its successor.
	h.Remove(old)
	if !h.Connected("s1") {
		t.Fatalf("successor removed by stale client")
	}

	h.Remove(cur)
	if h.Connected("s1") {
		t.Fatalf("client still registered")
	}

	h.Add(testClient("s2", 1))
	h.Shutdown()
	if h.Connected("s2") {
		t.Fatalf("client survived shutdown")
	}
}

func TestHub_SendRacesReconnect(t *testing.T) {
	h := NewHub()
	h.Add(testClient("s1", 4))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				h.Add(testClient("s1", 4))
			}
		}
	}()
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				c := testClient("s1", 1)
				h.Add(c)
				h.Remove(c)
			}
		}
	}()

	for i := 0; i < 20000; i++ {
		h.SendTo("s1", WSEvent{Type: "job.updated", SessionID: "s1"})
	}
	close(stop)
	wg.Wait()
	h.Shutdown()
}

func TestWSClient_SendAfterClose(t *testing.T) {
	c := testClient("s1", 1)
	if got := c.trySend([]byte("a")); got != sent {
		t.Fatalf("first send = %v", got)
	}
	if got := c.trySend([]byte("b")); got != bufferFull {
		t.Fatalf("second send = %v", got)
	}
	c.close()
	c.close()
	if got := c.trySend([]byte("c")); got != clientClosed {
		t.Fatalf("send after close = %v", got)
	}
}
