package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/snarg/scribe/internal/config"
)

func TestLogHubWrite(t *testing.T) {
	t.Run("no_subscribers", func(t *testing.T) {
		hub := NewLogHub()
		n, err := hub.Write([]byte("line\n"))
		if err != nil || n != 5 {
			t.Errorf("Write = %d, %v", n, err)
		}
	})

	t.Run("fan_out_and_cancel", func(t *testing.T) {
		hub := NewLogHub()
		a, cancelA := hub.Subscribe()
		b, cancelB := hub.Subscribe()
		defer cancelB()

		hub.Write([]byte(`{"level":"info"}`))

		for _, ch := range []<-chan []byte{a, b} {
			select {
			case frame := <-ch:
				var got logLine
				if err := json.Unmarshal(frame, &got); err != nil {
					t.Fatalf("frame is not JSON: %v", err)
				}
				if got.Type != "stdout" || got.Data != `{"level":"info"}` {
					t.Errorf("frame = %+v", got)
				}
			default:
				t.Fatal("subscriber did not receive the line")
			}
		}

		cancelA()
		if hub.SubscriberCount() != 1 {
			t.Errorf("SubscriberCount = %d, want 1", hub.SubscriberCount())
		}
	})

	t.Run("slow_subscriber_does_not_block", func(t *testing.T) {
		hub := NewLogHub()
		hub.bufSize = 1
		_, cancel := hub.Subscribe()
		defer cancel()

		done := make(chan struct{})
		go func() {
			for i := 0; i < 10; i++ {
				hub.Write([]byte("x"))
			}
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Write blocked on a full subscriber")
		}
	})
}

func TestLogStreamWebSocket(t *testing.T) {
	hub := NewLogHub()
	opts := testOptions(nil)
	opts.Config = &config.Config{Environment: config.EnvDevelopment}
	opts.Logs = hub
	opts.Log = zerolog.Nop()

	srv := httptest.NewServer(NewRouter(opts))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/logs", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var hello logLine
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if hello.Type != "info" {
		t.Errorf("hello type = %q, want info", hello.Type)
	}

	// The hello is written after Subscribe, so the viewer is registered now.
	hub.Write([]byte("relay pair closed\n"))

	var line logLine
	if err := conn.ReadJSON(&line); err != nil {
		t.Fatalf("read line: %v", err)
	}
	if line.Type != "stdout" || line.Data != "relay pair closed\n" {
		t.Errorf("line = %+v", line)
	}
}
