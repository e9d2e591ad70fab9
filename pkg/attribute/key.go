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

package attribute

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/nuclio/errors"
)

// attribute names follow the remote object model's enum naming (e.g. DESCRIPTION,
// VISIBLE, COLORBYPALETTE)
var attributeNameRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Key identifies a remote object attribute either by its symbolic enum name or
// by its numeric enum value. The key is resolved once, at the boundary to the
// transport, rather than being passed around as a raw string or int
type Key struct {
	name    string
	id      int
	numeric bool
}

// Named creates a symbolic attribute key. The name is normalized to the
// remote enum convention (upper case)
func Named(name string) Key {
	return Key{name: strings.ToUpper(name)}
}

// Numeric creates an attribute key from a raw enum value
func Numeric(id int) Key {
	return Key{id: id, numeric: true}
}

// ParseKey accepts the forms client code naturally holds an attribute in:
// a Key, a string enum name or an integer enum value
func ParseKey(value interface{}) (Key, error) {
	switch typedValue := value.(type) {
	case Key:
		return typedValue, nil
	case string:
		if !attributeNameRegex.MatchString(typedValue) {
			return Key{}, errors.Errorf("Invalid attribute name %q", typedValue)
		}
		return Named(typedValue), nil
	case int:
		return Numeric(typedValue), nil
	case int64:
		return Numeric(int(typedValue)), nil
	default:
		return Key{}, errors.Errorf("Unsupported attribute key type %T", value)
	}
}

// IsNumeric returns whether the key holds a raw enum value rather than a name
func (k Key) IsNumeric() bool {
	return k.numeric
}

// Name returns the symbolic name, or an empty string for numeric keys
func (k Key) Name() string {
	return k.name
}

// ID returns the numeric enum value, or zero for named keys
func (k Key) ID() int {
	return k.id
}

// Command renders the key in the form the remote command language expects -
// bare enum name for named keys, decimal literal for numeric keys
func (k Key) Command() string {
	if k.numeric {
		return strconv.Itoa(k.id)
	}

	return k.name
}

func (k Key) String() string {
	return k.Command()
}
