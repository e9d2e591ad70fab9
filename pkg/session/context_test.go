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

package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/ansys/pyensight-sub001/pkg/transport/transporttest"

	"github.com/nuclio/logger"
	"github.com/nuclio/zap"
	"github.com/stretchr/testify/suite"
)

type ContextTestSuite struct {
	suite.Suite
	logger    logger.Logger
	transport *transporttest.FakeTransport
	session   *Session
	ctx       context.Context

	capturePayload []byte
}

func (suite *ContextTestSuite) SetupTest() {
	suite.logger, _ = nucliozap.NewNuclioZapTest("test")
	suite.transport = transporttest.NewFakeTransport()
	suite.ctx = context.Background()

	suite.capturePayload = []byte{0x01, 0x02, 0xfe, 0xff, 0x00, 0x7f}

	suite.transport.SetHandler(func(text string, doEval bool) (interface{}, error) {
		if text == "rv.protocol_version()" {
			return ProtocolVersion, nil
		}
		if text == "rv.ctx_capture(False)" || text == "rv.ctx_capture(True)" {
			return suite.capturePayload, nil
		}
		return nil, nil
	})

	testSession, err := NewSession(suite.logger, Config{}, suite.transport, nil)
	suite.Require().NoError(err)
	suite.session = testSession
}

func (suite *ContextTestSuite) TearDownTest() {
	suite.Require().NoError(suite.session.Close())
}

func (suite *ContextTestSuite) TestCaptureRestoreRoundTrip() {
	capturedContext, err := suite.session.CaptureContext(suite.ctx, false)
	suite.Require().NoError(err)
	suite.Require().Equal(suite.capturePayload, capturedContext.Payload)
	suite.Require().False(capturedContext.Full)
	suite.Require().Equal(ProtocolVersion, capturedContext.ProtocolVersion)
	suite.Require().Equal(suite.session.ID(), capturedContext.SessionID)

	suite.Require().NoError(suite.session.RestoreContext(suite.ctx, capturedContext))

	expectedCommand := fmt.Sprintf(`rv.ctx_restore("%s")`,
		base64.StdEncoding.EncodeToString(suite.capturePayload))
	suite.Require().Equal(expectedCommand, suite.transport.LastCommand())
}

func (suite *ContextTestSuite) TestCaptureFull() {
	capturedContext, err := suite.session.CaptureContext(suite.ctx, true)
	suite.Require().NoError(err)
	suite.Require().True(capturedContext.Full)
	suite.Require().Contains(suite.transport.Commands(), "rv.ctx_capture(True)")
}

func (suite *ContextTestSuite) TestCaptureDecodesBase64Payload() {
	suite.transport.SetHandler(func(text string, doEval bool) (interface{}, error) {
		return base64.StdEncoding.EncodeToString(suite.capturePayload), nil
	})

	capturedContext, err := suite.session.CaptureContext(suite.ctx, false)
	suite.Require().NoError(err)
	suite.Require().Equal(suite.capturePayload, capturedContext.Payload)
}

func (suite *ContextTestSuite) TestSaveLoadPreservesPayloadExactly() {
	capturedContext, err := suite.session.CaptureContext(suite.ctx, false)
	suite.Require().NoError(err)

	contextPath := filepath.Join(suite.T().TempDir(), "view.rvctx")
	suite.Require().NoError(capturedContext.Save(contextPath))

	loadedContext, err := LoadContext(contextPath)
	suite.Require().NoError(err)
	suite.Require().Equal(capturedContext.Payload, loadedContext.Payload)
	suite.Require().Equal(capturedContext.SessionID, loadedContext.SessionID)
	suite.Require().Equal(capturedContext.ProtocolVersion, loadedContext.ProtocolVersion)

	// a restore of the loaded context replays the exact captured bytes
	suite.Require().NoError(suite.session.RestoreContext(suite.ctx, loadedContext))
}

func (suite *ContextTestSuite) TestRestoreRejectsEmptyContext() {
	suite.Require().Error(suite.session.RestoreContext(suite.ctx, nil))
	suite.Require().Error(suite.session.RestoreContext(suite.ctx, &Context{}))
}

func (suite *ContextTestSuite) TestLoadRejectsMissingOrEmptyFiles() {
	_, err := LoadContext(filepath.Join(suite.T().TempDir(), "absent.rvctx"))
	suite.Require().Error(err)

	emptyContext := Context{}
	emptyPath := filepath.Join(suite.T().TempDir(), "empty.rvctx")
	suite.Require().NoError(emptyContext.Save(emptyPath))

	_, err = LoadContext(emptyPath)
	suite.Require().Error(err)
}

func TestContextTestSuite(t *testing.T) {
	suite.Run(t, new(ContextTestSuite))
}
