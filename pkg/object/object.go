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

package object

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ansys/pyensight-sub001/pkg/attribute"
	"github.com/ansys/pyensight-sub001/pkg/rverror"

	"github.com/nuclio/errors"
)

// Caller dispatches command round trips on behalf of proxy objects. The
// owning session implements it; results arrive already rehydrated, so nested
// object references come back as *RemoteObject
type Caller interface {

	// Cmd executes text as a remote expression and returns the decoded result
	Cmd(ctx context.Context, text string) (interface{}, error)

	// CmdNoEval executes text as a remote statement
	CmdNoEval(ctx context.Context, text string) error
}

// attributeHint is a cached (attribute, value) pair attached by container
// queries, used only to disambiguate near-identical returned items
type attributeHint struct {
	key   attribute.Key
	value interface{}
	valid bool
}

// RemoteObject is a local stand-in for an object living in the remote
// visualization process, identified by an opaque integer id. The id is
// immutable after construction; all round trips go through the owning
// session's Caller
type RemoteObject struct {
	id     int64
	caller Caller
	owned  bool

	hintLock sync.Mutex
	hint     attributeHint

	classLock sync.Mutex
	className string
}

func newRemoteObject(id int64, caller Caller, owned bool) *RemoteObject {
	return &RemoteObject{
		id:     id,
		caller: caller,
		owned:  owned,
	}
}

// ID returns the remote object id, unique within the owning session
func (o *RemoteObject) ID() int64 {
	return o.id
}

// Equal reports whether other refers to the same remote object. Two proxies
// with the same id within one session are the same object for membership and
// search purposes, even if they are distinct transient instances
func (o *RemoteObject) Equal(other *RemoteObject) bool {
	return other != nil && o.id == other.id
}

// GetAttribute fetches a single attribute value
func (o *RemoteObject) GetAttribute(ctx context.Context, key attribute.Key) (interface{}, error) {
	value, err := o.caller.Cmd(ctx, fmt.Sprintf("rv.obj_getattr(%d, %s)", o.id, key.Command()))
	if err != nil {
		return nil, o.enrichError(err, key)
	}

	return value, nil
}

// GetAttributeText fetches a single attribute rendered as display text
func (o *RemoteObject) GetAttributeText(ctx context.Context, key attribute.Key) (string, error) {
	value, err := o.GetAttribute(ctx, key)
	if err != nil {
		return "", err
	}

	return attribute.AsText(value), nil
}

// GetAttributes bulk fetches attributes. A nil or empty key list fetches all
// attributes the remote object supports. When asText is set, values arrive
// rendered as display text
func (o *RemoteObject) GetAttributes(ctx context.Context,
	keys []attribute.Key,
	asText bool) (map[string]interface{}, error) {

	commandText := fmt.Sprintf("rv.obj_getattrs(%d", o.id)
	if len(keys) != 0 {
		renderedKeys := make([]string, 0, len(keys))
		for _, key := range keys {
			renderedKeys = append(renderedKeys, key.Command())
		}
		commandText += ", [" + strings.Join(renderedKeys, ", ") + "]"
	}
	if asText {
		commandText += ", text=True"
	}
	commandText += ")"

	value, err := o.caller.Cmd(ctx, commandText)
	if err != nil {
		return nil, o.enrichError(err, attribute.Key{})
	}

	attributeMap, ok := value.(map[string]interface{})
	if !ok {
		return nil, errors.Wrap(&rverror.RemoteOperationError{
			ObjectID: o.id,
			Command:  commandText,
			Reason:   fmt.Sprintf("expected attribute mapping, got %T", value),
		}, "Failed to decode bulk attribute fetch")
	}

	return attributeMap, nil
}

// SetAttribute writes a single attribute value
func (o *RemoteObject) SetAttribute(ctx context.Context, key attribute.Key, value interface{}) error {
	commandText := fmt.Sprintf("rv.obj_setattr(%d, %s, %s)",
		o.id,
		key.Command(),
		attribute.EncodeValue(value))

	if err := o.caller.CmdNoEval(ctx, commandText); err != nil {
		return o.enrichError(err, key)
	}

	return nil
}

// SetAttributes writes multiple attributes. When allErrors is false the first
// failure aborts the remaining writes; when true every write is attempted and
// the failures are aggregated into a single error. Writes are issued in
// sorted key order so failure behavior is deterministic
func (o *RemoteObject) SetAttributes(ctx context.Context,
	values map[attribute.Key]interface{},
	allErrors bool) error {

	sortedKeys := make([]attribute.Key, 0, len(values))
	for key := range values {
		sortedKeys = append(sortedKeys, key)
	}
	sort.Slice(sortedKeys, func(i, j int) bool {
		return sortedKeys[i].Command() < sortedKeys[j].Command()
	})

	var failureMessages []string

	for _, key := range sortedKeys {
		if err := o.SetAttribute(ctx, key, values[key]); err != nil {
			if !allErrors {
				return errors.Wrapf(err, "Failed to set attribute %s", key.Command())
			}

			failureMessages = append(failureMessages,
				fmt.Sprintf("%s: %s", key.Command(), err.Error()))
		}
	}

	if len(failureMessages) != 0 {
		return errors.Wrap(&rverror.RemoteOperationError{
			ObjectID: o.id,
			Reason:   strings.Join(failureMessages, "; "),
		}, "Failed to set one or more attributes")
	}

	return nil
}

// ScopedAttributeEdit runs body inside a remote edit transaction, so multiple
// attribute writes apply atomically on the remote side. The transaction is
// closed on every exit path, including body failure and panic
func (o *RemoteObject) ScopedAttributeEdit(ctx context.Context, body func() error) error {
	if err := o.caller.CmdNoEval(ctx, fmt.Sprintf("rv.obj_begin_edit(%d)", o.id)); err != nil {
		return errors.Wrap(o.enrichError(err, attribute.Key{}), "Failed to begin attribute edit")
	}

	endEdit := func() error {
		return o.caller.CmdNoEval(ctx, fmt.Sprintf("rv.obj_end_edit(%d)", o.id))
	}

	panicked := true
	defer func() {
		if panicked {
			_ = endEdit() // nolint: errcheck
		}
	}()

	bodyErr := body()
	panicked = false

	if endErr := endEdit(); endErr != nil && bodyErr == nil {
		return errors.Wrap(o.enrichError(endErr, attribute.Key{}), "Failed to end attribute edit")
	}

	return bodyErr
}

// SetMetadataTag attaches a metadata tag to the remote object
func (o *RemoteObject) SetMetadataTag(ctx context.Context, tag string, value interface{}) error {
	commandText := fmt.Sprintf("rv.obj_set_metatag(%d, %s, %s)",
		o.id,
		attribute.EncodeValue(tag),
		attribute.EncodeValue(value))

	if err := o.caller.CmdNoEval(ctx, commandText); err != nil {
		return o.enrichError(err, attribute.Key{})
	}

	return nil
}

// HasMetadataTag returns whether the remote object carries the given tag
func (o *RemoteObject) HasMetadataTag(ctx context.Context, tag string) (bool, error) {
	value, err := o.caller.Cmd(ctx, fmt.Sprintf("rv.obj_has_metatag(%d, %s)",
		o.id,
		attribute.EncodeValue(tag)))
	if err != nil {
		return false, o.enrichError(err, attribute.Key{})
	}

	boolValue, ok := value.(bool)
	if !ok {
		return false, errors.Errorf("Expected boolean metadata tag response, got %T", value)
	}

	return boolValue, nil
}

// GetMetadataTag reads the value of a metadata tag
func (o *RemoteObject) GetMetadataTag(ctx context.Context, tag string) (interface{}, error) {
	value, err := o.caller.Cmd(ctx, fmt.Sprintf("rv.obj_get_metatag(%d, %s)",
		o.id,
		attribute.EncodeValue(tag)))
	if err != nil {
		return nil, o.enrichError(err, attribute.Key{})
	}

	return value, nil
}

// ClassName resolves (and caches) the remote class name of the object
func (o *RemoteObject) ClassName(ctx context.Context) (string, error) {
	o.classLock.Lock()
	cachedClassName := o.className
	o.classLock.Unlock()

	if cachedClassName != "" {
		return cachedClassName, nil
	}

	value, err := o.caller.Cmd(ctx, fmt.Sprintf("rv.obj_classname(%d)", o.id))
	if err != nil {
		return "", o.enrichError(err, attribute.Key{})
	}

	className, ok := value.(string)
	if !ok {
		return "", errors.Errorf("Expected class name string, got %T", value)
	}

	o.classLock.Lock()
	o.className = className
	o.classLock.Unlock()

	return className, nil
}

// CacheAttributeHint records the (attribute, value) pair a container query
// matched this object on
func (o *RemoteObject) CacheAttributeHint(key attribute.Key, value interface{}) {
	o.hintLock.Lock()
	defer o.hintLock.Unlock()

	o.hint = attributeHint{key: key, value: value, valid: true}
}

// AttributeHint returns the cached (attribute, value) pair, if any
func (o *RemoteObject) AttributeHint() (attribute.Key, interface{}, bool) {
	o.hintLock.Lock()
	defer o.hintLock.Unlock()

	return o.hint.key, o.hint.value, o.hint.valid
}

// String renders the object id, resolved class name and, when legally
// queryable, the description. Query failures degrade to an empty field
// rather than propagate
func (o *RemoteObject) String() string {
	ctx := context.Background()

	className, err := o.ClassName(ctx)
	if err != nil {
		className = "?"
	}

	description, err := o.GetAttributeText(ctx, attribute.Named("DESCRIPTION"))
	if err != nil {
		description = ""
	}

	return fmt.Sprintf("%s(id=%d, desc='%s')", className, o.id, description)
}

// enrichError fills object/attribute context into remote operation errors so
// failures can be diagnosed without a live remote debugging session
func (o *RemoteObject) enrichError(err error, key attribute.Key) error {
	if remoteOperationError := rverror.AsRemoteOperationError(err); remoteOperationError != nil {
		if remoteOperationError.ObjectID == 0 {
			remoteOperationError.ObjectID = o.id
		}
		if remoteOperationError.Attribute == "" && key != (attribute.Key{}) {
			remoteOperationError.Attribute = key.Command()
		}
	}

	return err
}
