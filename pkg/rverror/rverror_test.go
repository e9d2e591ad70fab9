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

package rverror

import (
	"testing"
	"time"

	"github.com/nuclio/errors"
	"github.com/stretchr/testify/suite"
)

type ErrorTestSuite struct {
	suite.Suite
}

func (suite *ErrorTestSuite) TestDetectionSurvivesWrapping() {
	wrappedError := errors.Wrap(&TimeoutError{Command: "rv.slow()", Timeout: time.Second},
		"Failed to run command")

	suite.Require().True(IsTimeoutError(wrappedError))
	suite.Require().False(IsConnectionError(wrappedError))

	doubleWrapped := errors.Wrap(wrappedError, "Outer context")
	suite.Require().True(IsTimeoutError(doubleWrapped))
}

func (suite *ErrorTestSuite) TestRemoteOperationErrorContext() {
	remoteError := &RemoteOperationError{
		ObjectID:  42,
		Attribute: "VISIBLE",
		Command:   "rv.obj_getattr(42, VISIBLE)",
		Reason:    "no such attribute",
	}

	suite.Require().Contains(remoteError.Error(), "42")
	suite.Require().Contains(remoteError.Error(), "VISIBLE")
	suite.Require().Contains(remoteError.Error(), "no such attribute")

	wrappedError := errors.Wrap(remoteError, "Failed to fetch attribute")
	suite.Require().Same(remoteError, AsRemoteOperationError(wrappedError))
	suite.Require().Nil(AsRemoteOperationError(errors.New("plain failure")))
}

func (suite *ErrorTestSuite) TestTaxonomyIsDisjoint() {
	connectionError := &ConnectionError{Host: "127.0.0.1", Port: 12345, Reason: "refused"}

	suite.Require().True(IsConnectionError(connectionError))
	suite.Require().False(IsRemoteOperationError(connectionError))
	suite.Require().False(IsTimeoutError(connectionError))
	suite.Require().False(IsProtocolVersionError(connectionError))
	suite.Require().False(IsStateError(connectionError))
}

func (suite *ErrorTestSuite) TestProtocolVersionErrorNamesBothSides() {
	versionError := &ProtocolVersionError{LocalVersion: "1.2.0", RemoteVersion: "9.9.0"}

	suite.Require().Contains(versionError.Error(), "1.2.0")
	suite.Require().Contains(versionError.Error(), "9.9.0")
}

func TestErrorTestSuite(t *testing.T) {
	suite.Run(t, new(ErrorTestSuite))
}
