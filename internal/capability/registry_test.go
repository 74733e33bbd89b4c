package capability

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-speech/internal/bus"
	"github.com/loqalabs/loqa-speech/internal/config"
	"github.com/loqalabs/loqa-speech/internal/natsserver"
)

func connect(t *testing.T) *bus.Client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, logger)
	if err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, "capability-test", logger)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestRegistryAnnouncesProbedCapabilities(t *testing.T) {
	client := connect(t)
	cfg := config.NodeConfig{
		ID:                "speech-node",
		Role:              "speech",
		HeartbeatInterval: 100,
		HeartbeatTimeout:  1000,
		Capabilities:      []config.NodeCapability{{Name: "audio.playback", Tier: "local"}},
	}
	probe := func() []Capability {
		return []Capability{
			Speech(NameSTT, "mock", true, []string{"en-US", "en-GB"}),
			Speech(NameTTS, "exec", false, nil),
		}
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg, err := NewRegistry(context.Background(), cfg, client, probe, logger)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	defer reg.Close()

	if !reg.Healthy() {
		t.Fatal("expected local node healthy after announce")
	}
	local := reg.LocalCapabilities()
	if len(local) != 3 || local[1].Name != NameSTT {
		t.Fatalf("unexpected capabilities %+v", local)
	}
	if got := local[1].Languages(); len(got) != 2 || got[1] != "en-GB" {
		t.Fatalf("unexpected languages %v", got)
	}

	if nodes := reg.Query(WithLanguage(NameSTT, "en-gb")); len(nodes) != 1 {
		t.Fatalf("expected node offering en-GB recognition, got %d", len(nodes))
	}
	if nodes := reg.Query(WithLanguage(NameTTS, "en-US")); len(nodes) != 0 {
		t.Fatalf("unsupported synthesis must not match, got %d", len(nodes))
	}
	if nodes := reg.Query(WithCapabilityFilter("audio.playback")); len(nodes) != 1 {
		t.Fatalf("expected configured capability, got %d", len(nodes))
	}
}

func TestRegistryTracksPeers(t *testing.T) {
	client := connect(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg, err := NewRegistry(context.Background(), config.NodeConfig{ID: "local", HeartbeatInterval: 100, HeartbeatTimeout: 300}, client, nil, logger)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	defer reg.Close()

	payload, _ := json.Marshal(announceMessage{
		NodeID:       "peer",
		Role:         "speech",
		Capabilities: []Capability{Speech(NameTTS, "mock", true, []string{"fr-FR"})},
		Timestamp:    time.Now().UTC(),
	})
	if err := client.Conn().Publish(subjectAnnounce, payload); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, func() bool { return len(reg.Query(WithLanguage(NameTTS, "fr-FR"))) == 1 })

	// The peer never heartbeats, so it goes unhealthy after the timeout.
	waitFor(t, func() bool {
		nodes := reg.Query(func(n NodeInfo) bool { return n.ID == "peer" })
		return len(nodes) == 1 && !nodes[0].Healthy
	})
	if !reg.Healthy() {
		t.Fatal("local node heartbeats and must stay healthy")
	}
}

func TestRefreshReannouncesProbedLanguage(t *testing.T) {
	client := connect(t)
	var active atomic.Value
	active.Store("en-US")
	probe := func() []Capability {
		c := Speech(NameTTS, "mock", true, []string{"en-US", "fr-FR"})
		c.Attributes[AttrLanguage] = active.Load().(string)
		return []Capability{c}
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg, err := NewRegistry(context.Background(), config.NodeConfig{ID: "local", HeartbeatInterval: 1000, HeartbeatTimeout: 5000}, client, probe, logger)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	defer reg.Close()

	announced := make(chan announceMessage, 4)
	sub, err := client.Conn().Subscribe(subjectAnnounce, func(msg *nats.Msg) {
		var m announceMessage
		if json.Unmarshal(msg.Data, &m) == nil {
			announced <- m
		}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	active.Store("fr-FR")
	if err := reg.Refresh(); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := reg.LocalCapabilities()[0].Attributes[AttrLanguage]; got != "fr-FR" {
		t.Fatalf("expected refreshed language, got %q", got)
	}
	select {
	case m := <-announced:
		if m.NodeID != "local" || m.Capabilities[0].Attributes[AttrLanguage] != "fr-FR" {
			t.Fatalf("unexpected announcement %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a new announcement")
	}
}
