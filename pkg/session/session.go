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

package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ansys/pyensight-sub001/pkg/attribute"
	"github.com/ansys/pyensight-sub001/pkg/event"
	"github.com/ansys/pyensight-sub001/pkg/launcher"
	"github.com/ansys/pyensight-sub001/pkg/object"
	"github.com/ansys/pyensight-sub001/pkg/rverror"
	"github.com/ansys/pyensight-sub001/pkg/transport"

	"github.com/coreos/go-semver/semver"
	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	"github.com/rs/xid"
)

// Config holds the connection parameters of one session, typically supplied
// by a launcher
type Config struct {
	Host        string
	GRPCPort    int
	HTMLPort    int
	WSPort      int
	SecretKey   string
	InstallPath string
	Timeout     time.Duration
}

// Session owns one transport channel to a remote visualization process, the
// proxy object registry and the event dispatcher. All command round trips are
// synchronous and complete in issuance order; event callbacks run on an
// independent listening goroutine
type Session struct {
	id         string
	logger     logger.Logger
	config     Config
	transport  transport.Transport
	launcher   launcher.Launcher
	registry   *object.Registry
	dispatcher *event.Dispatcher

	remoteVersion *semver.Version

	closedLock sync.Mutex
	closed     bool
}

// NewSession connects the transport, resolves the remote protocol version and
// registers with the launcher (when one owns the remote process)
func NewSession(parentLogger logger.Logger,
	config Config,
	sessionTransport transport.Transport,
	sessionLauncher launcher.Launcher) (*Session, error) {

	newSession := &Session{
		id:        xid.New().String(),
		logger:    parentLogger.GetChild("session"),
		config:    config,
		transport: sessionTransport,
		launcher:  sessionLauncher,
	}

	connectCtx := context.Background()
	if err := sessionTransport.Connect(connectCtx); err != nil {
		return nil, errors.Wrap(err, "Failed to connect session transport")
	}

	newSession.registry = object.NewRegistry(newSession.logger, newSession)
	newSession.dispatcher = event.NewDispatcher(newSession.logger, newSession)
	newSession.dispatcher.Start(sessionTransport.Events())

	if err := newSession.resolveRemoteVersion(connectCtx); err != nil {

		// tolerated at connect time; Exec refuses to ship code until the
		// version is known to match
		newSession.logger.WarnWith("Failed to resolve remote protocol version", "err", err)
	}

	if sessionLauncher != nil {
		sessionLauncher.Register(newSession.id)
	}

	newSession.logger.DebugWith("Session created",
		"id", newSession.id,
		"host", config.Host,
		"grpcPort", config.GRPCPort)

	return newSession, nil
}

// ID returns the session's unique identifier
func (s *Session) ID() string {
	return s.id
}

// Config returns the session's connection parameters
func (s *Session) Config() Config {
	return s.config
}

// Cmd executes text as a remote expression and returns the decoded result.
// Object-id-shaped results - also when nested inside lists and mappings - are
// rehydrated into registry proxies
func (s *Session) Cmd(ctx context.Context, text string) (interface{}, error) {
	if err := s.guard("cmd"); err != nil {
		return nil, err
	}

	rawValue, err := s.transport.Command(ctx, text, true)
	if err != nil {
		return nil, err
	}

	return s.rehydrate(rawValue), nil
}

// CmdNoEval executes text as a remote statement, discarding any result
func (s *Session) CmdNoEval(ctx context.Context, text string) error {
	if err := s.guard("cmd"); err != nil {
		return err
	}

	_, err := s.transport.Command(ctx, text, false)
	return err
}

// Wrap returns the proxy for a known remote object id
func (s *Session) Wrap(id int64) *object.RemoteObject {
	return s.registry.Wrap(id)
}

// Registry exposes the session's object registry
func (s *Session) Registry() *object.Registry {
	return s.registry
}

// NewContainer builds a proxy container bound to this session
func (s *Session) NewContainer(items ...*object.RemoteObject) *object.Container {
	return object.NewContainer(s, items...)
}

// Root returns the root of the remote object model
func (s *Session) Root(ctx context.Context) (*object.RemoteObject, error) {
	result, err := s.Cmd(ctx, "rv.root()")
	if err != nil {
		return nil, errors.Wrap(err, "Failed to fetch object model root")
	}

	rootObject, ok := result.(*object.RemoteObject)
	if !ok {
		return nil, errors.Errorf("Expected object reference for root, got %T", result)
	}

	return rootObject, nil
}

// ObjectAttributeText reads the current display text of an attribute on a
// remote object; the event dispatcher uses this for macro expansion at fire
// time
func (s *Session) ObjectAttributeText(ctx context.Context,
	objectID int64,
	attributeName string) (string, error) {

	return s.registry.Wrap(objectID).GetAttributeText(ctx, attribute.Named(attributeName))
}

// AddCallback registers an event subscription. Target is either a
// *object.RemoteObject (instance scoped) or a class name string (class
// scoped, wildcard across all current and future instances)
func (s *Session) AddCallback(ctx context.Context,
	target interface{},
	name string,
	attributes []attribute.Key,
	callback func(string)) (event.SubscriptionID, error) {

	if err := s.guard("add_callback"); err != nil {
		return 0, err
	}

	var eventTarget event.Target

	switch typedTarget := target.(type) {
	case *object.RemoteObject:
		eventTarget = event.ObjectTarget(typedTarget.ID())
	case string:
		eventTarget = event.ClassTarget(strings.Trim(typedTarget, `'"`))
	default:
		return 0, errors.Errorf("Unsupported callback target type %T", target)
	}

	return s.dispatcher.Add(ctx, eventTarget, name, attributes, callback)
}

// RemoveCallback removes a previously registered event subscription
func (s *Session) RemoveCallback(ctx context.Context, subscriptionID event.SubscriptionID) error {
	if err := s.guard("remove_callback"); err != nil {
		return err
	}

	return s.dispatcher.Remove(ctx, subscriptionID)
}

// Dispatcher exposes the session's event dispatcher
func (s *Session) Dispatcher() *event.Dispatcher {
	return s.dispatcher
}

// Close tears the session down: subscriptions are dropped, the transport
// channel closes and the launcher is notified. When other sessions still
// share the remote process only this channel goes away; when this was the
// last session the launcher stops the remote process too. Calling Close again
// is a no-op; any other use after Close fails with a state error
func (s *Session) Close() error {
	s.closedLock.Lock()
	if s.closed {
		s.closedLock.Unlock()
		return nil
	}
	s.closed = true
	s.closedLock.Unlock()

	s.logger.DebugWith("Closing session", "id", s.id)

	s.dispatcher.Stop()
	s.registry.Clear()

	// the launcher owns the decision to stop the remote process
	if err := s.transport.Shutdown(false); err != nil {
		s.logger.WarnWith("Failed to shut down transport", "err", err)
	}

	if s.launcher != nil {
		if err := s.launcher.Unregister(s.id); err != nil {
			return errors.Wrap(err, "Failed to unregister from launcher")
		}
	}

	return nil
}

// resolveRemoteVersion caches the remote protocol version for Exec guards
func (s *Session) resolveRemoteVersion(ctx context.Context) error {
	rawValue, err := s.transport.Command(ctx, "rv.protocol_version()", true)
	if err != nil {
		return err
	}

	versionText, ok := rawValue.(string)
	if !ok {
		return errors.Errorf("Expected version string, got %T", rawValue)
	}

	parsedVersion, err := semver.NewVersion(versionText)
	if err != nil {
		return errors.Wrapf(err, "Failed to parse remote protocol version %q", versionText)
	}

	s.remoteVersion = parsedVersion
	return nil
}

// rehydrate recursively converts object-reference wire maps into registry
// proxies. Plain values pass through untouched
func (s *Session) rehydrate(value interface{}) interface{} {
	switch typedValue := value.(type) {
	case map[string]interface{}:
		if objectID, isReference := objectReferenceID(typedValue); isReference {
			return s.registry.Wrap(objectID)
		}

		rehydratedMap := make(map[string]interface{}, len(typedValue))
		for mapKey, mapValue := range typedValue {
			rehydratedMap[mapKey] = s.rehydrate(mapValue)
		}
		return rehydratedMap

	case []interface{}:
		rehydratedSlice := make([]interface{}, 0, len(typedValue))
		for _, sliceValue := range typedValue {
			rehydratedSlice = append(rehydratedSlice, s.rehydrate(sliceValue))
		}
		return rehydratedSlice

	default:
		return value
	}
}

func (s *Session) guard(operation string) error {
	s.closedLock.Lock()
	defer s.closedLock.Unlock()

	if s.closed {
		return errors.Wrap(&rverror.StateError{Operation: operation},
			fmt.Sprintf("Session %s is closed", s.id))
	}

	return nil
}

// objectReferenceID detects the single-key object reference wire form
func objectReferenceID(wireMap map[string]interface{}) (int64, bool) {
	if len(wireMap) != 1 {
		return 0, false
	}

	rawID, found := wireMap[transport.ObjectRefKey]
	if !found {
		return 0, false
	}

	switch typedID := rawID.(type) {
	case int64:
		return typedID, true
	case int:
		return int64(typedID), true
	case int32:
		return int64(typedID), true
	case uint64:
		return int64(typedID), true
	case int8:
		return int64(typedID), true
	case int16:
		return int64(typedID), true
	case uint32:
		return int64(typedID), true
	case float64:
		return int64(typedID), true
	default:
		return 0, false
	}
}
