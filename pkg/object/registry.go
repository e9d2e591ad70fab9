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
	"sync"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
)

// Registry is the session-scoped arena mapping remote object ids to live
// proxies. There is no process-wide object id space - every proxy is
// constructed through its owning session's registry. Result decoding on the
// main flow and on the event delivery path both insert, so the table is
// lock-guarded
type Registry struct {
	logger logger.Logger
	caller Caller

	lock    sync.RWMutex
	objects map[int64]*RemoteObject
}

// NewRegistry creates an empty registry whose proxies dispatch through caller
func NewRegistry(parentLogger logger.Logger, caller Caller) *Registry {
	return &Registry{
		logger:  parentLogger.GetChild("registry"),
		caller:  caller,
		objects: map[int64]*RemoteObject{},
	}
}

// Wrap returns the live proxy for id, creating one on first sight. Repeated
// lookups of the same id return the same instance
func (r *Registry) Wrap(id int64) *RemoteObject {
	r.lock.RLock()
	if existingObject, found := r.objects[id]; found {
		r.lock.RUnlock()
		return existingObject
	}
	r.lock.RUnlock()

	r.lock.Lock()
	defer r.lock.Unlock()

	// lost the race to another decoder
	if existingObject, found := r.objects[id]; found {
		return existingObject
	}

	newObject := newRemoteObject(id, r.caller, false)
	r.objects[id] = newObject

	return newObject
}

// WrapOwned returns the proxy for an object owned by a transient result set.
// Owned objects are released on the remote side when dropped through Release
func (r *Registry) WrapOwned(id int64) *RemoteObject {
	wrappedObject := r.Wrap(id)

	r.lock.Lock()
	wrappedObject.owned = true
	r.lock.Unlock()

	return wrappedObject
}

// Get returns the live proxy for id without creating one
func (r *Registry) Get(id int64) (*RemoteObject, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	existingObject, found := r.objects[id]
	return existingObject, found
}

// Release drops the proxy for id. Objects owned by a transient result set are
// released on the remote side as well
func (r *Registry) Release(ctx context.Context, id int64) error {
	r.lock.Lock()
	existingObject, found := r.objects[id]
	delete(r.objects, id)
	r.lock.Unlock()

	if !found {
		return nil
	}

	if existingObject.owned {
		if err := r.caller.CmdNoEval(ctx, fmt.Sprintf("rv.obj_release(%d)", id)); err != nil {
			return errors.Wrapf(err, "Failed to release remote object %d", id)
		}
	}

	return nil
}

// Len returns the number of live proxies
func (r *Registry) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return len(r.objects)
}

// Clear drops all proxies without remote round trips; used on session teardown
// when the remote side reclaims everything anyway
func (r *Registry) Clear() {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.objects = map[int64]*RemoteObject{}
}
