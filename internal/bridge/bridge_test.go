package bridge

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-speech/internal/bus"
	"github.com/loqalabs/loqa-speech/internal/config"
	"github.com/loqalabs/loqa-speech/internal/dispatch"
	"github.com/loqalabs/loqa-speech/internal/engine"
	"github.com/loqalabs/loqa-speech/internal/engine/mock"
	"github.com/loqalabs/loqa-speech/internal/events"
	"github.com/loqalabs/loqa-speech/internal/eventstore"
	"github.com/loqalabs/loqa-speech/internal/natsserver"
	"github.com/loqalabs/loqa-speech/internal/protocol"
	"github.com/loqalabs/loqa-speech/internal/tts"
)

type fixture struct {
	conn     *nats.Conn
	engine   *mock.SynthesisEngine
	store    *eventstore.Store
	recorder *eventstore.Recorder
	service  *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, logger)
	require.NoError(t, err)
	t.Cleanup(srv.Shutdown)

	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, "bridge-test", logger)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	store, err := eventstore.Open(context.Background(), config.EventStoreConfig{
		Path:          filepath.Join(t.TempDir(), "events.db"),
		RetentionMode: "session",
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	recorder := eventstore.NewRecorder(store, 16, logger)
	t.Cleanup(recorder.Close)

	eng := mock.NewSynthesisEngine(engine.Token{ID: "david", Attributes: map[string]string{
		engine.AttrLanguage: "409", engine.AttrName: "David", engine.AttrGender: "Male",
	}})
	states := events.NewSink()
	session := tts.NewSession(eng, states, logger)

	svc := NewService(context.Background(),
		config.BridgeConfig{SubjectPrefix: "speech", QueueGroup: "speech", RequestTimeout: 2000},
		client,
		[]*dispatch.Channel{dispatch.NewSynthesisChannel(session, logger)},
		[]Stream{{Channel: protocol.ChannelTTS, Name: protocol.StreamStates, Sink: states}},
		recorder,
		logger)
	require.NoError(t, svc.Start())
	t.Cleanup(svc.Close)
	require.True(t, svc.Healthy())

	return &fixture{conn: client.Conn(), engine: eng, store: store, recorder: recorder, service: svc}
}

func (f *fixture) call(t *testing.T, method string, args map[string]any) protocol.MethodReply {
	t.Helper()
	data, err := json.Marshal(protocol.MethodCall{Method: method, Args: args})
	require.NoError(t, err)
	msg, err := f.conn.Request(protocol.MethodsSubject("speech", protocol.ChannelTTS), data, 2*time.Second)
	require.NoError(t, err)
	var reply protocol.MethodReply
	require.NoError(t, json.Unmarshal(msg.Data, &reply))
	return reply
}

func (f *fixture) control(t *testing.T, subject string, req any) protocol.ListenReply {
	t.Helper()
	data, err := json.Marshal(req)
	require.NoError(t, err)
	msg, err := f.conn.Request(subject, data, 2*time.Second)
	require.NoError(t, err)
	var reply protocol.ListenReply
	require.NoError(t, json.Unmarshal(msg.Data, &reply))
	return reply
}

func nextEvent(t *testing.T, sub *nats.Subscription) protocol.StreamEvent {
	t.Helper()
	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	var evt protocol.StreamEvent
	require.NoError(t, json.Unmarshal(msg.Data, &evt))
	return evt
}

func TestMethodCalls(t *testing.T) {
	f := newFixture(t)

	reply := f.call(t, "isSupported", nil)
	require.Nil(t, reply.Error)
	assert.JSONEq(t, "true", string(reply.Result))

	reply = f.call(t, "getVoices", nil)
	require.Nil(t, reply.Error)
	assert.JSONEq(t, `[{"id":"david","language":"en-US","languageInstalled":true,"name":"David","networkRequired":false,"gender":"male"}]`, string(reply.Result))

	reply = f.call(t, "windows.showTrainingUI", nil)
	assert.True(t, reply.NotImplemented)

	reply = f.call(t, "setVolume", map[string]any{"volume": "loud"})
	require.NotNil(t, reply.Error)
	assert.Equal(t, engine.NewFault(engine.FaultInvalidArg, "").CodeString(), reply.Error.Code)
}

func TestMalformedCallIsRejected(t *testing.T) {
	f := newFixture(t)
	msg, err := f.conn.Request(protocol.MethodsSubject("speech", protocol.ChannelTTS), []byte("{"), 2*time.Second)
	require.NoError(t, err)
	var reply protocol.MethodReply
	require.NoError(t, json.Unmarshal(msg.Data, &reply))
	require.NotNil(t, reply.Error)
	assert.Equal(t, engine.NewFault(engine.FaultInvalidArg, "").CodeString(), reply.Error.Code)
}

func TestListenStreamsStatesUntilCancelled(t *testing.T) {
	f := newFixture(t)

	inbox := nats.NewInbox()
	sub, err := f.conn.SubscribeSync(inbox)
	require.NoError(t, err)
	require.NoError(t, f.conn.Flush())

	listen := f.control(t, protocol.ListenSubject("speech", protocol.ChannelTTS, protocol.StreamStates), protocol.ListenRequest{DeliverSubject: inbox})
	require.Empty(t, listen.Error)
	require.NotEmpty(t, listen.SessionID)

	reply := f.call(t, "start", map[string]any{"text": "hello"})
	require.Nil(t, reply.Error)
	evt := nextEvent(t, sub)
	assert.Equal(t, protocol.StreamStates, evt.Stream)
	assert.Equal(t, listen.SessionID, evt.SessionID)
	assert.JSONEq(t, "1", string(evt.Value))

	_, ok := f.engine.Current().CompleteNext()
	require.True(t, ok)
	evt = nextEvent(t, sub)
	assert.JSONEq(t, "0", string(evt.Value))

	cancel := f.control(t, protocol.CancelSubject("speech", protocol.ChannelTTS, protocol.StreamStates), struct{}{})
	assert.Equal(t, listen.SessionID, cancel.SessionID)

	reply = f.call(t, "start", map[string]any{"text": "again"})
	require.Nil(t, reply.Error)
	_, err = sub.NextMsg(200 * time.Millisecond)
	assert.ErrorIs(t, err, nats.ErrTimeout)

	f.recorder.Close()
	recorded, err := f.store.ListSessionEvents(context.Background(), listen.SessionID, 10)
	require.NoError(t, err)
	require.Len(t, recorded, 2)
	assert.Equal(t, eventstore.KindSuccess, recorded[0].Kind)
	assert.Equal(t, "1", string(recorded[0].Payload))
	assert.Equal(t, "0", string(recorded[1].Payload))
}

func TestListenRequiresDeliverSubject(t *testing.T) {
	f := newFixture(t)
	reply := f.control(t, protocol.ListenSubject("speech", protocol.ChannelTTS, protocol.StreamStates), protocol.ListenRequest{})
	assert.NotEmpty(t, reply.Error)
	assert.Empty(t, reply.SessionID)
}
