package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-speech/internal/bus"
	"github.com/loqalabs/loqa-speech/internal/capability"
	"github.com/loqalabs/loqa-speech/internal/config"
	"github.com/loqalabs/loqa-speech/internal/engine"
	"github.com/loqalabs/loqa-speech/internal/protocol"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.HTTP = config.HTTPConfig{Bind: "127.0.0.1", Port: 0}
	cfg.Telemetry.PrometheusBind = ""
	cfg.Bus.Port = -1
	cfg.Bus.StoreDir = ""
	cfg.Node.HeartbeatInterval = 100
	cfg.Node.HeartbeatTimeout = 1000
	cfg.EventStore.Path = filepath.Join(t.TempDir(), "events.db")
	cfg.TTS.MockSpeakMS = 20
	return cfg
}

func waitReady(t *testing.T, rt *Runtime, errCh <-chan error) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case err := <-errCh:
			t.Fatalf("runtime exited early: %v", err)
		default:
		}
		if rt.Ready() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("runtime not ready before deadline")
}

func TestTokensFromConfig(t *testing.T) {
	toks, err := tokens([]config.InstalledResource{
		{ID: "a", Language: "fr-FR", Name: "A", Gender: "Female", Vendor: "V"},
		{ID: "b", Language: "0x407"},
	})
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	if lang, _ := toks[0].Attr(engine.AttrLanguage); lang != "40C" {
		t.Fatalf("expected 40C, got %q", lang)
	}
	if _, err := toks[1].Attr(engine.AttrName); err == nil {
		t.Fatal("expected missing name attribute")
	}
	if lang, _ := toks[1].Attr(engine.AttrLanguage); lang != "407" {
		t.Fatalf("expected 407, got %q", lang)
	}
	if _, err := tokens([]config.InstalledResource{{ID: "x", Language: "xx-XX"}}); err == nil {
		t.Fatal("expected unknown language error")
	}
}

func TestUnsupportedMode(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := newSynthesisEngine(config.TTSConfig{Mode: "sapi"}, logger); err == nil {
		t.Fatal("expected unsupported mode error")
	}
	if _, err := newRecognitionEngine(config.STTConfig{Mode: "sapi"}, logger); err == nil {
		t.Fatal("expected unsupported mode error")
	}
}

func TestRuntimeServesSpeechOverBus(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rt := New(testConfig(t), logger)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- rt.Start(ctx) }()
	waitReady(t, rt, errCh)

	resp, err := http.Get("http://" + rt.Addr() + "/readyz")
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected ready, got %d", resp.StatusCode)
	}

	client, err := bus.Connect(ctx, config.BusConfig{Servers: []string{rt.embedded.ClientURL()}, ConnectTimeout: 2000}, "runtime-test", logger)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	data, _ := json.Marshal(protocol.MethodCall{Method: "getLanguages"})
	msg, err := client.Conn().Request(protocol.MethodsSubject("speech", protocol.ChannelTTS), data, 2*time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var reply protocol.MethodReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.Error != nil || string(reply.Result) != `["en-US","en-GB"]` {
		t.Fatalf("unexpected reply %+v (%s)", reply, reply.Result)
	}

	local := rt.registry.LocalCapabilities()
	if len(local) != 2 || local[0].Name != capability.NameSTT || local[0].Attributes[capability.AttrSupported] != "true" {
		t.Fatalf("unexpected capabilities %+v", local)
	}
	if local[1].Attributes[capability.AttrLanguage] != "en-US" {
		t.Fatalf("expected en-US synthesis, got %+v", local[1])
	}

	data, _ = json.Marshal(protocol.MethodCall{Method: "setLanguage", Args: map[string]any{"language": "en-GB"}})
	msg, err = client.Conn().Request(protocol.MethodsSubject("speech", protocol.ChannelTTS), data, 2*time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	reply = protocol.MethodReply{}
	if err := json.Unmarshal(msg.Data, &reply); err != nil || reply.Error != nil {
		t.Fatalf("set language failed: %v %+v", err, reply.Error)
	}
	client.Close()
	if got := rt.registry.LocalCapabilities()[1].Attributes[capability.AttrLanguage]; got != "en-GB" {
		t.Fatalf("expected capabilities refreshed to en-GB, got %q", got)
	}

	resp, err = http.Get("http://" + rt.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "go_goroutines") {
		t.Fatal("expected go runtime metrics")
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("runtime stopped with error: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("runtime did not stop")
	}
}
