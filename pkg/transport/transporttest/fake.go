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

package transporttest

import (
	"context"
	"sync"

	"github.com/ansys/pyensight-sub001/pkg/rverror"
	"github.com/ansys/pyensight-sub001/pkg/transport"
)

// CommandHandler scripts the fake's response to a single command round trip
type CommandHandler func(text string, doEval bool) (interface{}, error)

// FakeTransport is a scripted in-memory transport for tests. Commands are
// answered by a pluggable handler and recorded in issuance order; events are
// pushed by the test through PushEvent
type FakeTransport struct {
	lock      sync.Mutex
	connected bool
	commands  []string
	handler   CommandHandler
	events    chan transport.Event
}

func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		events: make(chan transport.Event, 64),
	}
}

// SetHandler replaces the scripted command handler
func (ft *FakeTransport) SetHandler(handler CommandHandler) {
	ft.lock.Lock()
	defer ft.lock.Unlock()
	ft.handler = handler
}

// Commands returns a copy of the recorded command texts, in issuance order
func (ft *FakeTransport) Commands() []string {
	ft.lock.Lock()
	defer ft.lock.Unlock()

	commands := make([]string, len(ft.commands))
	copy(commands, ft.commands)
	return commands
}

// LastCommand returns the most recently issued command text
func (ft *FakeTransport) LastCommand() string {
	ft.lock.Lock()
	defer ft.lock.Unlock()

	if len(ft.commands) == 0 {
		return ""
	}
	return ft.commands[len(ft.commands)-1]
}

// PushEvent queues a push notification for the event channel
func (ft *FakeTransport) PushEvent(uri string) {
	ft.events <- transport.Event{URI: uri}
}

// Connect establishes the fake channel
func (ft *FakeTransport) Connect(ctx context.Context) error {
	ft.lock.Lock()
	defer ft.lock.Unlock()
	ft.connected = true
	return nil
}

// Command records the command and answers through the scripted handler
func (ft *FakeTransport) Command(ctx context.Context, text string, doEval bool) (interface{}, error) {
	ft.lock.Lock()

	if !ft.connected {
		ft.lock.Unlock()
		return nil, &rverror.ConnectionError{Reason: "transport is not connected"}
	}

	ft.commands = append(ft.commands, text)
	handler := ft.handler
	ft.lock.Unlock()

	if handler == nil {
		return nil, nil
	}

	return handler(text, doEval)
}

// Events returns the push notification channel
func (ft *FakeTransport) Events() <-chan transport.Event {
	return ft.events
}

// IsConnected returns whether the fake channel is connected
func (ft *FakeTransport) IsConnected() bool {
	ft.lock.Lock()
	defer ft.lock.Unlock()
	return ft.connected
}

// Shutdown tears the fake channel down and closes the event channel
func (ft *FakeTransport) Shutdown(stopRemote bool) error {
	ft.lock.Lock()
	defer ft.lock.Unlock()

	if !ft.connected {
		return nil
	}

	ft.connected = false
	close(ft.events)
	return nil
}
