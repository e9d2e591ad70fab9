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
	"time"
)

// ObjectRefKey is the single key of the map the remote side wires an object
// reference as. Result decoding rehydrates any such map into a proxy object
const ObjectRefKey = "__rvobjid__"

// Event is a single push notification from the remote object model, carrying
// the URI form emitted by the remote side:
//
//	rvev://host/<class>/<name>?enum=<ATTR>&uid=<ID>
type Event struct {
	URI string
}

// Config holds the parameters needed to reach one remote session channel
type Config struct {
	Host      string
	Port      int
	SecretKey string
	Timeout   time.Duration
}

// Transport is the RPC/streaming channel abstraction connecting the client to
// the remote visualization process. Command round trips complete in issuance
// order on one channel; events arrive on an independent push stream
type Transport interface {

	// Connect establishes the channel, validating the secret key
	Connect(ctx context.Context) error

	// Command executes text as a remote expression or statement. When doEval
	// is true the remote result is decoded and returned; otherwise the text
	// is executed as a statement and the result is nil
	Command(ctx context.Context, text string, doEval bool) (interface{}, error)

	// Events returns the push notification channel. The channel is closed
	// when the stream ends or the transport is shut down
	Events() <-chan Event

	// IsConnected returns whether the channel is currently usable
	IsConnected() bool

	// Shutdown tears the channel down. When stopRemote is set, the remote
	// process is asked to exit before the channel closes
	Shutdown(stopRemote bool) error
}
