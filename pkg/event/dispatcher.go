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

package event

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/ansys/pyensight-sub001/pkg/attribute"
	"github.com/ansys/pyensight-sub001/pkg/transport"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
)

// macro placeholders in a subscription's name template: {{ATTR}}
var macroRegex = regexp.MustCompile(`\{\{([A-Za-z0-9_]+)\}\}`)

// Backend is what the dispatcher needs from its owning session: command round
// trips for subscribe/unsubscribe, and current-value attribute reads for
// macro expansion at fire time
type Backend interface {
	Cmd(ctx context.Context, text string) (interface{}, error)
	CmdNoEval(ctx context.Context, text string) error
	ObjectAttributeText(ctx context.Context, objectID int64, attributeName string) (string, error)
}

// SubscriptionID identifies a local subscription
type SubscriptionID int64

// SubscriptionState tracks a subscription through its lifecycle
type SubscriptionState int

const (
	StateUnsubscribed SubscriptionState = iota
	StateSubscribed
	StateDelivering
)

// Target selects what a subscription watches: a single object instance, or
// every current and future instance of a class
type Target struct {
	objectID  int64
	className string
}

// ObjectTarget watches a single object by id
func ObjectTarget(objectID int64) Target {
	return Target{objectID: objectID}
}

// ClassTarget watches all instances of the named class
func ClassTarget(className string) Target {
	return Target{className: strings.ToUpper(className)}
}

func (t Target) command() string {
	if t.className != "" {
		return fmt.Sprintf("class:%s", strconv.Quote(t.className))
	}

	return fmt.Sprintf("uid:%d", t.objectID)
}

// Subscription is a registered interest in attribute-change notifications
type Subscription struct {
	ID           SubscriptionID
	Target       Target
	Attributes   map[string]struct{}
	NameTemplate string
	Callback     func(string)

	remoteID int64
	state    SubscriptionState
}

// Dispatcher routes push notifications from the transport's event stream to
// registered callbacks. Delivery happens on the listening goroutine, in the
// order the remote side emitted the events; the subscription table is written
// from the main flow and read from the listening path, so it is lock-guarded
type Dispatcher struct {
	logger  logger.Logger
	backend Backend

	lock               sync.RWMutex
	subscriptions      map[SubscriptionID]*Subscription
	nextSubscriptionID SubscriptionID

	stopOnce sync.Once
	done     chan struct{}
}

// NewDispatcher creates a dispatcher bound to the given backend
func NewDispatcher(parentLogger logger.Logger, backend Backend) *Dispatcher {
	return &Dispatcher{
		logger:        parentLogger.GetChild("events"),
		backend:       backend,
		subscriptions: map[SubscriptionID]*Subscription{},
		done:          make(chan struct{}),
	}
}

// Start consumes the event channel until it closes or Stop is called. Must be
// called exactly once
func (d *Dispatcher) Start(events <-chan transport.Event) {
	go func() {
		defer close(d.done)

		for pushedEvent := range events {
			d.dispatch(pushedEvent)
		}

		d.logger.Debug("Event stream ended")
	}()
}

// Add registers a subscription and announces the interest to the remote side.
// The returned id can later be passed to Remove
func (d *Dispatcher) Add(ctx context.Context,
	target Target,
	nameTemplate string,
	attributes []attribute.Key,
	callback func(string)) (SubscriptionID, error) {

	renderedAttributes := make([]string, 0, len(attributes))
	attributeSet := map[string]struct{}{}
	for _, attributeKey := range attributes {
		renderedAttributes = append(renderedAttributes, attributeKey.Command())
		attributeSet[attributeKey.Command()] = struct{}{}
	}

	commandText := fmt.Sprintf("rv.event_subscribe(%s, [%s], %s)",
		strconv.Quote(target.command()),
		strings.Join(renderedAttributes, ", "),
		strconv.Quote(nameTemplate))

	result, err := d.backend.Cmd(ctx, commandText)
	if err != nil {
		return 0, errors.Wrap(err, "Failed to register remote event subscription")
	}

	remoteID, err := decodeRemoteID(result)
	if err != nil {
		return 0, errors.Wrap(err, "Failed to decode remote subscription id")
	}

	d.lock.Lock()
	defer d.lock.Unlock()

	d.nextSubscriptionID++
	subscription := &Subscription{
		ID:           d.nextSubscriptionID,
		Target:       target,
		Attributes:   attributeSet,
		NameTemplate: nameTemplate,
		Callback:     callback,
		remoteID:     remoteID,
		state:        StateSubscribed,
	}
	d.subscriptions[subscription.ID] = subscription

	d.logger.DebugWith("Added event subscription",
		"id", subscription.ID,
		"target", target.command(),
		"attributes", renderedAttributes)

	return subscription.ID, nil
}

// Remove unregisters a subscription locally and on the remote side
func (d *Dispatcher) Remove(ctx context.Context, subscriptionID SubscriptionID) error {
	d.lock.Lock()
	subscription, found := d.subscriptions[subscriptionID]
	if found {
		subscription.state = StateUnsubscribed
		delete(d.subscriptions, subscriptionID)
	}
	d.lock.Unlock()

	if !found {
		return errors.Errorf("No subscription with id %d", subscriptionID)
	}

	if err := d.backend.CmdNoEval(ctx, fmt.Sprintf("rv.event_unsubscribe(%d)", subscription.remoteID)); err != nil {
		return errors.Wrap(err, "Failed to remove remote event subscription")
	}

	return nil
}

// State returns the current lifecycle state of a subscription
func (d *Dispatcher) State(subscriptionID SubscriptionID) SubscriptionState {
	d.lock.RLock()
	defer d.lock.RUnlock()

	if subscription, found := d.subscriptions[subscriptionID]; found {
		return subscription.state
	}

	return StateUnsubscribed
}

// Len returns the number of active subscriptions
func (d *Dispatcher) Len() int {
	d.lock.RLock()
	defer d.lock.RUnlock()

	return len(d.subscriptions)
}

// Stop drops all subscriptions. No subscription outlives the session
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.lock.Lock()
		for _, subscription := range d.subscriptions {
			subscription.state = StateUnsubscribed
		}
		d.subscriptions = map[SubscriptionID]*Subscription{}
		d.lock.Unlock()
	})
}

// dispatch routes one pushed event to every matching subscription, in table
// insertion order. Callback panics are contained so one broken callback never
// stops delivery to the others
func (d *Dispatcher) dispatch(pushedEvent transport.Event) {
	parsedURI, err := url.Parse(pushedEvent.URI)
	if err != nil {
		d.logger.WarnWith("Discarding unparsable event URI",
			"uri", pushedEvent.URI,
			"err", err)
		return
	}

	queryValues := parsedURI.Query()
	changedAttribute := queryValues.Get("enum")

	changedObjectID, err := strconv.ParseInt(queryValues.Get("uid"), 10, 64)
	if err != nil {
		d.logger.WarnWith("Discarding event URI without a valid uid",
			"uri", pushedEvent.URI)
		return
	}

	// first path segment is the class name of the changed object
	pathSegments := strings.Split(strings.TrimPrefix(parsedURI.Path, "/"), "/")
	changedClassName := ""
	if len(pathSegments) > 0 {
		changedClassName = strings.ToUpper(pathSegments[0])
	}

	for _, subscription := range d.matchingSubscriptions(changedObjectID, changedClassName, changedAttribute) {
		callbackArgument := d.buildCallbackArgument(subscription, changedObjectID, changedAttribute)

		d.setState(subscription.ID, StateDelivering)
		d.deliver(subscription, callbackArgument)
		d.setState(subscription.ID, StateSubscribed)
	}
}

// matchingSubscriptions snapshots the matching subscriptions under the read
// lock; delivery itself runs without the lock held
func (d *Dispatcher) matchingSubscriptions(changedObjectID int64,
	changedClassName string,
	changedAttribute string) []*Subscription {

	d.lock.RLock()
	defer d.lock.RUnlock()

	matching := make([]*Subscription, 0)

	// iterate in subscription id order for deterministic delivery
	for subscriptionID := SubscriptionID(1); subscriptionID <= d.nextSubscriptionID; subscriptionID++ {
		subscription, found := d.subscriptions[subscriptionID]
		if !found {
			continue
		}

		targetMatches := (subscription.Target.objectID != 0 && subscription.Target.objectID == changedObjectID) ||
			(subscription.Target.className != "" && subscription.Target.className == changedClassName)
		if !targetMatches {
			continue
		}

		if len(subscription.Attributes) != 0 {
			if _, watched := subscription.Attributes[changedAttribute]; !watched {
				continue
			}
		}

		matching = append(matching, subscription)
	}

	return matching
}

// buildCallbackArgument renders the single string argument the callback
// receives. Macro placeholders expand to the current value of the referenced
// attribute, read from the changed object at fire time; without placeholders
// the literal template gets enum/uid query parameters appended
func (d *Dispatcher) buildCallbackArgument(subscription *Subscription,
	changedObjectID int64,
	changedAttribute string) string {

	template := subscription.NameTemplate

	if macroRegex.MatchString(template) {
		return macroRegex.ReplaceAllStringFunc(template, func(macro string) string {
			attributeName := macroRegex.FindStringSubmatch(macro)[1]

			currentValue, err := d.backend.ObjectAttributeText(context.Background(),
				changedObjectID,
				attributeName)
			if err != nil {
				d.logger.WarnWith("Failed to expand event macro",
					"attribute", attributeName,
					"objectID", changedObjectID,
					"err", err)
				return ""
			}

			return url.QueryEscape(currentValue)
		})
	}

	separator := "?"
	if strings.Contains(template, "?") {
		separator = "&"
	}

	return fmt.Sprintf("%s%senum=%s&uid=%d", template, separator, changedAttribute, changedObjectID)
}

func (d *Dispatcher) deliver(subscription *Subscription, callbackArgument string) {
	defer func() {
		if recovered := recover(); recovered != nil {
			d.logger.WarnWith("Event callback panicked",
				"subscription", subscription.ID,
				"err", recovered)
		}
	}()

	subscription.Callback(callbackArgument)
}

func (d *Dispatcher) setState(subscriptionID SubscriptionID, state SubscriptionState) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if subscription, found := d.subscriptions[subscriptionID]; found {
		subscription.state = state
	}
}

func decodeRemoteID(value interface{}) (int64, error) {
	switch typedValue := value.(type) {
	case int64:
		return typedValue, nil
	case int:
		return int64(typedValue), nil
	case int32:
		return int64(typedValue), nil
	case uint64:
		return int64(typedValue), nil
	case int8:
		return int64(typedValue), nil
	case int16:
		return int64(typedValue), nil
	case float64:
		return int64(typedValue), nil
	case nil:
		return 0, errors.New("Remote side reported no subscription id")
	default:
		return 0, errors.Errorf("Unsupported remote id type %T", value)
	}
}
