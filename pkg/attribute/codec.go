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
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// EncodeValue renders a local value as a literal in the remote command
// language. The remote interpreter uses python-like literals: quoted strings,
// True/False, bracketed lists
func EncodeValue(value interface{}) string {
	switch typedValue := value.(type) {
	case nil:
		return "None"
	case bool:
		if typedValue {
			return "True"
		}
		return "False"
	case string:
		return strconv.Quote(typedValue)
	case float32:
		return strconv.FormatFloat(float64(typedValue), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(typedValue, 'g', -1, 64)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", typedValue)
	}

	reflectedValue := reflect.ValueOf(value)
	switch reflectedValue.Kind() {
	case reflect.Slice, reflect.Array:
		elements := make([]string, 0, reflectedValue.Len())
		for elementIndex := 0; elementIndex < reflectedValue.Len(); elementIndex++ {
			elements = append(elements, EncodeValue(reflectedValue.Index(elementIndex).Interface()))
		}
		return "[" + strings.Join(elements, ", ") + "]"
	case reflect.Map:
		elements := make([]string, 0, reflectedValue.Len())
		for _, mapKey := range reflectedValue.MapKeys() {
			elements = append(elements, fmt.Sprintf("%s: %s",
				EncodeValue(mapKey.Interface()),
				EncodeValue(reflectedValue.MapIndex(mapKey).Interface())))
		}
		return "{" + strings.Join(elements, ", ") + "}"
	}

	return strconv.Quote(fmt.Sprintf("%v", value))
}

// AsText renders a decoded attribute value the way a user would read it -
// without quoting, suitable for display and for glob matching
func AsText(value interface{}) string {
	switch typedValue := value.(type) {
	case nil:
		return ""
	case string:
		return typedValue
	case bool:
		if typedValue {
			return "True"
		}
		return "False"
	case float64:
		return strconv.FormatFloat(typedValue, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(typedValue), 'g', -1, 32)
	}

	return fmt.Sprintf("%v", value)
}

// NaturalValue converts a decoded value to its natural comparison form:
// all integer and float widths collapse to float64, booleans stay booleans,
// everything else compares through its text form. Both sides of an equality
// test must pass through this before comparing
func NaturalValue(value interface{}) interface{} {
	switch typedValue := value.(type) {
	case nil:
		return nil
	case bool:
		return typedValue
	case int:
		return float64(typedValue)
	case int8:
		return float64(typedValue)
	case int16:
		return float64(typedValue)
	case int32:
		return float64(typedValue)
	case int64:
		return float64(typedValue)
	case uint:
		return float64(typedValue)
	case uint8:
		return float64(typedValue)
	case uint16:
		return float64(typedValue)
	case uint32:
		return float64(typedValue)
	case uint64:
		return float64(typedValue)
	case float32:
		return float64(typedValue)
	case float64:
		return typedValue
	case string:

		// numeric looking strings compare as numbers, matching how the remote
		// side reports numeric attributes it stringifies
		if parsedFloat, err := strconv.ParseFloat(typedValue, 64); err == nil {
			return parsedFloat
		}
		return typedValue
	}

	return AsText(value)
}

// ValuesEqual compares two decoded values after natural type conversion
func ValuesEqual(first interface{}, second interface{}) bool {
	return NaturalValue(first) == NaturalValue(second)
}
