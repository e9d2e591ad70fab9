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
	"reflect"
	"regexp"
	"strings"

	"github.com/ansys/pyensight-sub001/pkg/attribute"

	"github.com/nuclio/errors"
	"github.com/samber/lo"
)

// WildcardMode selects how container find queries match attribute values
type WildcardMode int

const (

	// WildcardNone compares for equality after natural type conversion
	WildcardNone WildcardMode = iota

	// WildcardCaseSensitive glob-matches the attribute's display text
	WildcardCaseSensitive

	// WildcardCaseInsensitive glob-matches ignoring case
	WildcardCaseInsensitive
)

// FindOptions tunes a container find query. The zero value means: match on
// DESCRIPTION, exact comparison, flat result
type FindOptions struct {
	Attribute attribute.Key
	Wildcard  WildcardMode

	// Group wraps the matched members in a single server-side group object
	// instead of returning them flat. Experimental - flat is the default and
	// always works
	Group bool
}

// Container is an ordered sequence of remote object proxies with bulk
// query/mutation support. Duplicates are permitted; order is the server
// return order. Composition over a plain slice rather than sequence
// subclassing keeps the query surface explicit
type Container struct {
	caller Caller
	items  []*RemoteObject
}

// NewContainer creates a container over the given proxies. The caller is used
// only for operations that need their own round trip (group wrapping)
func NewContainer(caller Caller, items ...*RemoteObject) *Container {
	return &Container{
		caller: caller,
		items:  items,
	}
}

// Len returns the number of members
func (c *Container) Len() int {
	return len(c.items)
}

// At returns the member at index; negative indices count from the end
func (c *Container) At(index int) *RemoteObject {
	if index < 0 {
		index += len(c.items)
	}
	if index < 0 || index >= len(c.items) {
		return nil
	}

	return c.items[index]
}

// Slice returns a sub-container over [from, to). Bounds are clamped
func (c *Container) Slice(from int, to int) *Container {
	if from < 0 {
		from = 0
	}
	if to > len(c.items) {
		to = len(c.items)
	}
	if from >= to {
		return NewContainer(c.caller)
	}

	return NewContainer(c.caller, c.items[from:to]...)
}

// Items returns the members in order. The returned slice is a copy
func (c *Container) Items() []*RemoteObject {
	items := make([]*RemoteObject, len(c.items))
	copy(items, c.items)
	return items
}

// Append adds members at the end, preserving insertion order
func (c *Container) Append(objects ...*RemoteObject) {
	c.items = append(c.items, objects...)
}

// Contains reports membership by object id
func (c *Container) Contains(target *RemoteObject) bool {
	return lo.ContainsBy(c.items, func(item *RemoteObject) bool {
		return item.Equal(target)
	})
}

// Find returns the members whose attribute matches value, preserving relative
// order. Value may be a scalar or a slice of scalars (strings stay scalar);
// membership is OR across the provided values. Members whose attribute lookup
// fails are silently excluded
func (c *Container) Find(ctx context.Context, value interface{}, options *FindOptions) (*Container, error) {
	if options == nil {
		options = &FindOptions{}
	}

	findAttribute := options.Attribute
	if findAttribute == (attribute.Key{}) {
		findAttribute = attribute.Named("DESCRIPTION")
	}

	candidateValues := scalarValues(value)

	matcher, err := newValueMatcher(candidateValues, options.Wildcard)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to compile find patterns")
	}

	matchedItems := make([]*RemoteObject, 0)

	for _, item := range c.items {
		attributeValue, err := item.GetAttribute(ctx, findAttribute)
		if err != nil {

			// heterogeneous collections are expected - a member that does not
			// support the attribute is simply not a match
			continue
		}

		if matcher(attributeValue) {
			item.CacheAttributeHint(findAttribute, attributeValue)
			matchedItems = append(matchedItems, item)
		}
	}

	if options.Group {
		return c.wrapInGroup(ctx, matchedItems)
	}

	return NewContainer(c.caller, matchedItems...), nil
}

// FindByDescription is the string-index sugar: an exact find on DESCRIPTION
// across one or more values
func (c *Container) FindByDescription(ctx context.Context, values ...string) *Container {
	found, _ := c.Find(ctx, values, nil)
	return found
}

// SetAttr writes the attribute on every member and returns the number of
// members for which the write succeeded. Per-item failures are swallowed and
// do not count
func (c *Container) SetAttr(ctx context.Context, key attribute.Key, value interface{}) int {
	successCount := 0

	for _, item := range c.items {
		if err := item.SetAttribute(ctx, key, value); err != nil {
			continue
		}
		successCount++
	}

	return successCount
}

// GetAttr reads the attribute from every member, in order. The result always
// has exactly Len() entries; failed lookups are replaced by defaultValue
func (c *Container) GetAttr(ctx context.Context, key attribute.Key, defaultValue interface{}) []interface{} {
	values := make([]interface{}, 0, len(c.items))

	for _, item := range c.items {
		itemValue, err := item.GetAttribute(ctx, key)
		if err != nil {
			values = append(values, defaultValue)
			continue
		}
		values = append(values, itemValue)
	}

	return values
}

// String renders the comma-joined members inside brackets
func (c *Container) String() string {
	memberStrings := lo.Map(c.items, func(item *RemoteObject, _ int) string {
		return item.String()
	})

	return "[" + strings.Join(memberStrings, ", ") + "]"
}

// wrapInGroup creates a server-side group object over the matched members and
// returns a container holding just the group proxy
func (c *Container) wrapInGroup(ctx context.Context, matchedItems []*RemoteObject) (*Container, error) {
	if c.caller == nil {
		return nil, errors.New("Container has no session, cannot create a group")
	}

	memberIDs := lo.Map(matchedItems, func(item *RemoteObject, _ int) string {
		return fmt.Sprintf("%d", item.ID())
	})

	result, err := c.caller.Cmd(ctx, fmt.Sprintf("rv.group_create([%s])", strings.Join(memberIDs, ", ")))
	if err != nil {
		return nil, errors.Wrap(err, "Failed to create group object")
	}

	groupObject, ok := result.(*RemoteObject)
	if !ok {
		return nil, errors.Errorf("Expected a group object reference, got %T", result)
	}

	return NewContainer(c.caller, groupObject), nil
}

// scalarValues normalizes the find value into the list of candidates. Raw
// text is a scalar even though it is technically iterable
func scalarValues(value interface{}) []interface{} {
	if _, isString := value.(string); isString {
		return []interface{}{value}
	}

	reflectedValue := reflect.ValueOf(value)
	if reflectedValue.Kind() == reflect.Slice || reflectedValue.Kind() == reflect.Array {
		values := make([]interface{}, 0, reflectedValue.Len())
		for valueIndex := 0; valueIndex < reflectedValue.Len(); valueIndex++ {
			values = append(values, reflectedValue.Index(valueIndex).Interface())
		}
		return values
	}

	return []interface{}{value}
}

// newValueMatcher compiles the candidate values into a single OR predicate
// over a decoded attribute value
func newValueMatcher(candidateValues []interface{}, wildcard WildcardMode) (func(interface{}) bool, error) {
	if wildcard == WildcardNone {
		return func(attributeValue interface{}) bool {
			for _, candidateValue := range candidateValues {
				if attribute.ValuesEqual(attributeValue, candidateValue) {
					return true
				}
			}
			return false
		}, nil
	}

	caseInsensitive := wildcard == WildcardCaseInsensitive

	patterns := make([]*regexp.Regexp, 0, len(candidateValues))
	for _, candidateValue := range candidateValues {
		pattern, err := compileGlob(attribute.AsText(candidateValue), caseInsensitive)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, pattern)
	}

	return func(attributeValue interface{}) bool {
		attributeText := attribute.AsText(attributeValue)
		for _, pattern := range patterns {
			if pattern.MatchString(attributeText) {
				return true
			}
		}
		return false
	}, nil
}
