/*
Copyright 2017 The Nuclio Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ansys/pyensight-sub001/pkg/rverror"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	commandMethod = "/remotevis.v1.Session/Command"
	eventsMethod  = "/remotevis.v1.Session/Events"

	// metadata key carrying the session secret on every call
	secretMetadataKey = "shared_secret"

	defaultConnectTimeout = 15 * time.Second
	defaultCommandTimeout = 120 * time.Second
)

// GRPCTransport implements Transport over a grpc channel using the msgpack
// codec. One instance serves exactly one session
type GRPCTransport struct {
	logger       logger.Logger
	config       Config
	conn         *grpc.ClientConn
	events       chan Event
	eventsCancel context.CancelFunc

	connectedLock sync.Mutex
	connected     bool
}

// NewGRPCTransport creates a transport for the given endpoint. Connect must be
// called before any command is issued
func NewGRPCTransport(parentLogger logger.Logger, config Config) *GRPCTransport {
	if config.Timeout == 0 {
		config.Timeout = defaultCommandTimeout
	}

	return &GRPCTransport{
		logger: parentLogger.GetChild("transport"),
		config: config,
		events: make(chan Event, 64),
	}
}

// Connect dials the channel and opens the push notification stream
func (t *GRPCTransport) Connect(ctx context.Context) error {
	t.logger.DebugWith("Connecting",
		"host", t.config.Host,
		"port", t.config.Port)

	dialCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	conn, err := grpc.DialContext(dialCtx,
		fmt.Sprintf("%s:%d", t.config.Host, t.config.Port),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(Codec{})),
		grpc.WithBlock())
	if err != nil {
		return errors.Wrap(&rverror.ConnectionError{
			Host:   t.config.Host,
			Port:   t.config.Port,
			Reason: err.Error(),
		}, "Failed to dial remote session")
	}

	t.conn = conn

	t.connectedLock.Lock()
	t.connected = true
	t.connectedLock.Unlock()

	if err := t.openEventStream(); err != nil {
		_ = conn.Close() // nolint: errcheck
		return errors.Wrap(err, "Failed to open event stream")
	}

	return nil
}

// Command executes a single remote round trip. A timeout leaves the channel
// usable for subsequent calls - unary grpc framing guarantees no partial
// response can leak into the next call
func (t *GRPCTransport) Command(ctx context.Context, text string, doEval bool) (interface{}, error) {
	if !t.IsConnected() {
		return nil, &rverror.ConnectionError{
			Host:   t.config.Host,
			Port:   t.config.Port,
			Reason: "transport is not connected",
		}
	}

	callCtx, cancel := context.WithTimeout(t.withSecret(ctx), t.config.Timeout)
	defer cancel()

	request := commandRequest{Command: text, DoEval: doEval}
	response := commandResponse{}

	if err := t.conn.Invoke(callCtx, commandMethod, &request, &response); err != nil {
		return nil, t.wrapCallError(err, text)
	}

	if response.Error != "" {
		return nil, &rverror.RemoteOperationError{
			Command: text,
			Reason:  response.Error,
		}
	}

	return response.Value, nil
}

// Events returns the push notification channel
func (t *GRPCTransport) Events() <-chan Event {
	return t.events
}

// IsConnected returns whether the channel is currently usable
func (t *GRPCTransport) IsConnected() bool {
	t.connectedLock.Lock()
	defer t.connectedLock.Unlock()

	return t.connected
}

// Shutdown tears the channel down, optionally asking the remote process to
// exit first
func (t *GRPCTransport) Shutdown(stopRemote bool) error {
	t.connectedLock.Lock()
	if !t.connected {
		t.connectedLock.Unlock()
		return nil
	}
	t.connected = false
	t.connectedLock.Unlock()

	if stopRemote {

		// best effort - the remote may be gone already
		shutdownCtx, cancel := context.WithTimeout(t.withSecret(context.Background()), 10*time.Second)
		request := commandRequest{Command: "rv.shutdown()", DoEval: false}
		response := commandResponse{}
		if err := t.conn.Invoke(shutdownCtx, commandMethod, &request, &response); err != nil {
			t.logger.WarnWith("Failed to request remote shutdown", "err", err)
		}
		cancel()
	}

	if t.eventsCancel != nil {
		t.eventsCancel()
	}

	if err := t.conn.Close(); err != nil {
		return errors.Wrap(err, "Failed to close grpc connection")
	}

	return nil
}

func (t *GRPCTransport) openEventStream() error {
	streamCtx, cancel := context.WithCancel(t.withSecret(context.Background()))
	t.eventsCancel = cancel

	stream, err := t.conn.NewStream(streamCtx,
		&grpc.StreamDesc{
			StreamName:    "Events",
			ServerStreams: true,
		},
		eventsMethod,
		grpc.ForceCodec(Codec{}))
	if err != nil {
		cancel()
		return errors.Wrap(err, "Failed to create event stream")
	}

	if err := stream.SendMsg(&eventStreamRequest{}); err != nil {
		cancel()
		return errors.Wrap(err, "Failed to send event stream request")
	}

	if err := stream.CloseSend(); err != nil {
		cancel()
		return errors.Wrap(err, "Failed to half-close event stream")
	}

	go t.readEvents(stream)

	return nil
}

// readEvents pumps the push stream into the events channel, preserving the
// order the remote side emitted them in
func (t *GRPCTransport) readEvents(stream grpc.ClientStream) {
	defer close(t.events)

	for {
		message := eventMessage{}
		if err := stream.RecvMsg(&message); err != nil {
			if t.IsConnected() {
				t.logger.WarnWith("Event stream ended", "err", err)

				t.connectedLock.Lock()
				t.connected = false
				t.connectedLock.Unlock()
			}
			return
		}

		t.events <- Event{URI: message.URI}
	}
}

func (t *GRPCTransport) withSecret(ctx context.Context) context.Context {
	if t.config.SecretKey == "" {
		return ctx
	}

	return metadata.AppendToOutgoingContext(ctx, secretMetadataKey, t.config.SecretKey)
}

// wrapCallError maps grpc failure modes onto the error taxonomy
func (t *GRPCTransport) wrapCallError(err error, commandText string) error {
	callStatus, ok := status.FromError(err)
	if !ok {
		return errors.Wrap(err, "Command failed")
	}

	switch callStatus.Code() {
	case codes.DeadlineExceeded:
		return &rverror.TimeoutError{
			Command: commandText,
			Timeout: t.config.Timeout,
		}
	case codes.Unavailable, codes.Canceled:
		t.connectedLock.Lock()
		t.connected = false
		t.connectedLock.Unlock()

		return &rverror.ConnectionError{
			Host:   t.config.Host,
			Port:   t.config.Port,
			Reason: callStatus.Message(),
		}
	case codes.Unauthenticated, codes.PermissionDenied:
		return &rverror.ConnectionError{
			Host:   t.config.Host,
			Port:   t.config.Port,
			Reason: "secret key rejected: " + callStatus.Message(),
		}
	default:
		return &rverror.RemoteOperationError{
			Command: commandText,
			Reason:  callStatus.Message(),
		}
	}
}
