package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-speech/internal/bus"
	"github.com/loqalabs/loqa-speech/internal/config"
	"github.com/loqalabs/loqa-speech/internal/protocol"
)

var version = "0.1.0-dev"

type options struct {
	server  string
	prefix  string
	channel string
	timeout time.Duration
}

func (o *options) register(fs *flag.FlagSet) {
	fs.StringVar(&o.server, "server", "nats://localhost:4222", "NATS server URL")
	fs.StringVar(&o.prefix, "prefix", "speech", "Subject prefix")
	fs.StringVar(&o.channel, "channel", protocol.ChannelTTS, "Channel (stt or tts)")
	fs.DurationVar(&o.timeout, "timeout", 5*time.Second, "Request timeout")
}

func main() {
	var (
		opts   options
		method string
		args   string
		stream string
	)
	callCmd := flag.NewFlagSet("call", flag.ExitOnError)
	opts.register(callCmd)
	callCmd.StringVar(&method, "method", "isSupported", "Method to invoke")
	callCmd.StringVar(&args, "args", "", "JSON object of method arguments")

	listenCmd := flag.NewFlagSet("listen", flag.ExitOnError)
	opts.register(listenCmd)
	listenCmd.StringVar(&stream, "stream", protocol.StreamStates, "Stream (states or results)")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'call', 'listen' or 'version'")
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "call":
		callCmd.Parse(os.Args[2:])
		err = runCall(opts, method, args, os.Stdout)
	case "listen":
		listenCmd.Parse(os.Args[2:])
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		err = runListen(ctx, opts, stream, os.Stdout)
		stop()
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func connect(ctx context.Context, opts options) (*bus.Client, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return bus.Connect(ctx, config.BusConfig{
		Servers:        []string{opts.server},
		ConnectTimeout: int(opts.timeout.Milliseconds()),
	}, "speechctl", logger)
}

func runCall(opts options, method, rawArgs string, out io.Writer) error {
	call := protocol.MethodCall{Method: method}
	if rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &call.Args); err != nil {
			return fmt.Errorf("parse -args: %w", err)
		}
	}
	data, err := json.Marshal(call)
	if err != nil {
		return err
	}

	client, err := connect(context.Background(), opts)
	if err != nil {
		return err
	}
	defer client.Close()

	msg, err := client.Conn().Request(protocol.MethodsSubject(opts.prefix, opts.channel), data, opts.timeout)
	if err != nil {
		return fmt.Errorf("call %s.%s: %w", opts.channel, method, err)
	}
	var reply protocol.MethodReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	switch {
	case reply.NotImplemented:
		return fmt.Errorf("%s.%s is not implemented", opts.channel, method)
	case reply.Error != nil:
		return fmt.Errorf("%s.%s failed: %s (%s)", opts.channel, method, reply.Error.Message, reply.Error.Code)
	}
	result := reply.Result
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	_, err = fmt.Fprintln(out, string(result))
	return err
}

// runListen attaches to a stream and prints events until ctx is done, then
// detaches.
func runListen(ctx context.Context, opts options, stream string, out io.Writer) error {
	client, err := connect(ctx, opts)
	if err != nil {
		return err
	}
	defer client.Close()
	conn := client.Conn()

	inbox := nats.NewInbox()
	sub, err := conn.Subscribe(inbox, func(msg *nats.Msg) {
		var evt protocol.StreamEvent
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			fmt.Fprintf(out, "invalid event: %v\n", err)
			return
		}
		if evt.Error != nil {
			fmt.Fprintf(out, "%s %s error %s: %s\n", evt.Timestamp.Format(time.RFC3339Nano), evt.Stream, evt.Error.Code, evt.Error.Message)
			return
		}
		fmt.Fprintf(out, "%s %s %s\n", evt.Timestamp.Format(time.RFC3339Nano), evt.Stream, evt.Value)
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	req, _ := json.Marshal(protocol.ListenRequest{DeliverSubject: inbox})
	msg, err := conn.Request(protocol.ListenSubject(opts.prefix, opts.channel, stream), req, opts.timeout)
	if err != nil {
		return fmt.Errorf("listen %s.%s: %w", opts.channel, stream, err)
	}
	var reply protocol.ListenReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return fmt.Errorf("decode listen reply: %w", err)
	}
	if reply.Error != "" {
		return errors.New(reply.Error)
	}
	fmt.Fprintf(out, "listening on %s.%s (session %s)\n", opts.channel, stream, reply.SessionID)

	<-ctx.Done()
	if _, err := conn.Request(protocol.CancelSubject(opts.prefix, opts.channel, stream), []byte("{}"), opts.timeout); err != nil {
		return fmt.Errorf("cancel %s.%s: %w", opts.channel, stream, err)
	}
	return nil
}
