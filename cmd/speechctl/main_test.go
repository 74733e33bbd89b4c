package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-speech/internal/config"
	"github.com/loqalabs/loqa-speech/internal/natsserver"
	"github.com/loqalabs/loqa-speech/internal/protocol"
)

func startServer(t *testing.T) string {
	t.Helper()
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	return srv.ClientURL()
}

func TestRunCallPrintsResult(t *testing.T) {
	url := startServer(t)
	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()

	_, err = nc.Subscribe(protocol.MethodsSubject("speech", protocol.ChannelTTS), func(msg *nats.Msg) {
		var call protocol.MethodCall
		_ = json.Unmarshal(msg.Data, &call)
		var reply protocol.MethodReply
		switch call.Method {
		case "getVoice":
			reply.Result = json.RawMessage(`{"id":"` + call.Args["hint"].(string) + `"}`)
		case "pause":
			reply.Error = &protocol.MethodError{Code: "-2147201018", Message: "busy"}
		default:
			reply.NotImplemented = true
		}
		data, _ := json.Marshal(reply)
		_ = msg.Respond(data)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	_ = nc.Flush()

	opts := options{server: url, prefix: "speech", channel: protocol.ChannelTTS, timeout: 2 * time.Second}
	var out bytes.Buffer
	if err := runCall(opts, "getVoice", `{"hint":"zira"}`, &out); err != nil {
		t.Fatalf("call: %v", err)
	}
	if strings.TrimSpace(out.String()) != `{"id":"zira"}` {
		t.Fatalf("unexpected output %q", out.String())
	}

	if err := runCall(opts, "pause", "", &out); err == nil || !strings.Contains(err.Error(), "-2147201018") {
		t.Fatalf("expected engine error, got %v", err)
	}
	if err := runCall(opts, "bogus", "", &out); err == nil || !strings.Contains(err.Error(), "not implemented") {
		t.Fatalf("expected not implemented, got %v", err)
	}
	if err := runCall(opts, "start", "{", &out); err == nil {
		t.Fatal("expected argument parse error")
	}
}

func TestRunListenAttachesAndCancels(t *testing.T) {
	url := startServer(t)
	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()

	cancelled := make(chan struct{}, 1)
	_, _ = nc.Subscribe(protocol.ListenSubject("speech", protocol.ChannelSTT, protocol.StreamResults), func(msg *nats.Msg) {
		var req protocol.ListenRequest
		_ = json.Unmarshal(msg.Data, &req)
		data, _ := json.Marshal(protocol.ListenReply{Stream: protocol.StreamResults, SessionID: "s-1"})
		_ = msg.Respond(data)
		evt, _ := json.Marshal(protocol.StreamEvent{Stream: protocol.StreamResults, SessionID: "s-1", Value: json.RawMessage(`{"text":"hi","isFinal":true}`)})
		_ = nc.Publish(req.DeliverSubject, evt)
	})
	_, _ = nc.Subscribe(protocol.CancelSubject("speech", protocol.ChannelSTT, protocol.StreamResults), func(msg *nats.Msg) {
		_ = msg.Respond([]byte(`{"stream":"results"}`))
		cancelled <- struct{}{}
	})
	_ = nc.Flush()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	var out syncBuffer
	opts := options{server: url, prefix: "speech", channel: protocol.ChannelSTT, timeout: 2 * time.Second}
	if err := runListen(ctx, opts, protocol.StreamResults, &out); err != nil {
		t.Fatalf("listen: %v", err)
	}
	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("expected cancel request")
	}
	if !strings.Contains(out.String(), "session s-1") || !strings.Contains(out.String(), `{"text":"hi","isFinal":true}`) {
		t.Fatalf("unexpected output %q", out.String())
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
