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

package rverror

import (
	"fmt"
	"time"

	"github.com/nuclio/errors"
)

// ConnectionError indicates the transport is unreachable, was disconnected
// mid-call, or the secret key handshake failed
type ConnectionError struct {
	Host   string
	Port   int
	Reason string
}

func (e *ConnectionError) Error() string {
	if e.Host != "" {
		return fmt.Sprintf("Connection to %s:%d failed: %s", e.Host, e.Port, e.Reason)
	}

	return fmt.Sprintf("Connection failed: %s", e.Reason)
}

// RemoteOperationError indicates a get/set/call against a live connection
// failed on the remote side. It carries the object id, attribute and command
// text so failures can be diagnosed without a live remote debugging session
type RemoteOperationError struct {
	ObjectID  int64
	Attribute string
	Command   string
	Reason    string
}

func (e *RemoteOperationError) Error() string {
	message := fmt.Sprintf("Remote operation failed: %s", e.Reason)

	if e.ObjectID != 0 {
		message += fmt.Sprintf(" (object %d", e.ObjectID)
		if e.Attribute != "" {
			message += fmt.Sprintf(", attribute %s", e.Attribute)
		}
		message += ")"
	}

	if e.Command != "" {
		message += fmt.Sprintf(" [command: %s]", e.Command)
	}

	return message
}

// ProtocolVersionError indicates the local and remote protocol versions differ
// in a way that makes shipping code for remote execution unsafe
type ProtocolVersionError struct {
	LocalVersion  string
	RemoteVersion string
}

func (e *ProtocolVersionError) Error() string {
	return fmt.Sprintf("Protocol version mismatch: local %s, remote %s",
		e.LocalVersion,
		e.RemoteVersion)
}

// TimeoutError indicates a call exceeded the configured timeout. The session
// remains usable for subsequent calls
type TimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("Command timed out after %s [command: %s]", e.Timeout, e.Command)
}

// StateError indicates an operation was attempted on a closed session or a
// finalized context
type StateError struct {
	Operation string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("Operation %q attempted on a closed session", e.Operation)
}

// IsConnectionError returns whether the root cause of err is a ConnectionError
func IsConnectionError(err error) bool {
	_, ok := errors.RootCause(err).(*ConnectionError)
	return ok
}

// IsRemoteOperationError returns whether the root cause of err is a RemoteOperationError
func IsRemoteOperationError(err error) bool {
	_, ok := errors.RootCause(err).(*RemoteOperationError)
	return ok
}

// IsProtocolVersionError returns whether the root cause of err is a ProtocolVersionError
func IsProtocolVersionError(err error) bool {
	_, ok := errors.RootCause(err).(*ProtocolVersionError)
	return ok
}

// IsTimeoutError returns whether the root cause of err is a TimeoutError
func IsTimeoutError(err error) bool {
	_, ok := errors.RootCause(err).(*TimeoutError)
	return ok
}

// IsStateError returns whether the root cause of err is a StateError
func IsStateError(err error) bool {
	_, ok := errors.RootCause(err).(*StateError)
	return ok
}

// AsRemoteOperationError returns the root cause of err as a RemoteOperationError,
// or nil if the root cause is of another kind
func AsRemoteOperationError(err error) *RemoteOperationError {
	if remoteOperationError, ok := errors.RootCause(err).(*RemoteOperationError); ok {
		return remoteOperationError
	}

	return nil
}
