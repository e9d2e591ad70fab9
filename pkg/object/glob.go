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
	"regexp"
	"strings"

	"github.com/nuclio/errors"
)

// compileGlob translates a shell-style glob (*, ?, [set]) into an anchored
// regular expression. Container find queries match attribute display text
// against these
func compileGlob(pattern string, caseInsensitive bool) (*regexp.Regexp, error) {
	var expression strings.Builder

	if caseInsensitive {
		expression.WriteString("(?i)")
	}
	expression.WriteString("^")

	inSet := false

	for _, character := range pattern {
		switch {
		case inSet:
			if character == ']' {
				inSet = false
			}
			expression.WriteRune(character)
		case character == '*':
			expression.WriteString(".*")
		case character == '?':
			expression.WriteString(".")
		case character == '[':
			inSet = true
			expression.WriteRune(character)
		default:
			expression.WriteString(regexp.QuoteMeta(string(character)))
		}
	}

	if inSet {
		return nil, errors.Errorf("Unterminated character set in pattern %q", pattern)
	}

	expression.WriteString("$")

	compiled, err := regexp.Compile(expression.String())
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to compile pattern %q", pattern)
	}

	return compiled, nil
}
