//go:build test_unit

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
	"testing"

	"github.com/stretchr/testify/suite"
)

type AttributeTestSuite struct {
	suite.Suite
}

func (suite *AttributeTestSuite) TestNamedKeyNormalizesToUpperCase() {
	key := Named("description")
	suite.Require().Equal("DESCRIPTION", key.Command())
	suite.Require().False(key.IsNumeric())
}

func (suite *AttributeTestSuite) TestNumericKeyRendersDecimal() {
	key := Numeric(1610)
	suite.Require().Equal("1610", key.Command())
	suite.Require().True(key.IsNumeric())
}

func (suite *AttributeTestSuite) TestParseKeyAcceptsNaturalForms() {
	for _, testCase := range []struct {
		value           interface{}
		expectedCommand string
	}{
		{"visible", "VISIBLE"},
		{42, "42"},
		{int64(7), "7"},
		{Named("COLORBYPALETTE"), "COLORBYPALETTE"},
	} {
		key, err := ParseKey(testCase.value)
		suite.Require().NoError(err)
		suite.Require().Equal(testCase.expectedCommand, key.Command())
	}
}

func (suite *AttributeTestSuite) TestParseKeyRejectsInvalidNames() {
	_, err := ParseKey("not a name")
	suite.Require().Error(err)

	_, err = ParseKey(3.14)
	suite.Require().Error(err)
}

func (suite *AttributeTestSuite) TestEncodeValueLiterals() {
	for _, testCase := range []struct {
		value    interface{}
		expected string
	}{
		{nil, "None"},
		{true, "True"},
		{false, "False"},
		{"hood", `"hood"`},
		{42, "42"},
		{1.5, "1.5"},
		{[]interface{}{1, "two"}, `[1, "two"]`},
	} {
		suite.Require().Equal(testCase.expected, EncodeValue(testCase.value))
	}
}

func (suite *AttributeTestSuite) TestNaturalValueCollapsesNumericWidths() {
	suite.Require().True(ValuesEqual(int64(5), 5))
	suite.Require().True(ValuesEqual(float64(5), 5))
	suite.Require().True(ValuesEqual("5", 5))
	suite.Require().True(ValuesEqual(true, true))
	suite.Require().False(ValuesEqual(true, false))
	suite.Require().False(ValuesEqual("hood", "HOOD"))
}

func TestAttributeTestSuite(t *testing.T) {
	suite.Run(t, new(AttributeTestSuite))
}
