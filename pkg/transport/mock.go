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

	"github.com/stretchr/testify/mock"
)

//
// Transport mock
//

type MockTransport struct {
	mock.Mock
}

func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// Connect establishes the channel
func (mt *MockTransport) Connect(ctx context.Context) error {
	args := mt.Called(ctx)
	return args.Error(0)
}

// Command executes text as a remote expression or statement
func (mt *MockTransport) Command(ctx context.Context, text string, doEval bool) (interface{}, error) {
	args := mt.Called(ctx, text, doEval)
	return args.Get(0), args.Error(1)
}

// Events returns the push notification channel
func (mt *MockTransport) Events() <-chan Event {
	args := mt.Called()
	return args.Get(0).(<-chan Event)
}

// IsConnected returns whether the channel is currently usable
func (mt *MockTransport) IsConnected() bool {
	args := mt.Called()
	return args.Bool(0)
}

// Shutdown tears the channel down
func (mt *MockTransport) Shutdown(stopRemote bool) error {
	args := mt.Called(stopRemote)
	return args.Error(0)
}
