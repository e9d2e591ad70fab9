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

package event

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ansys/pyensight-sub001/pkg/attribute"
	"github.com/ansys/pyensight-sub001/pkg/transport"

	"github.com/nuclio/zap"
	"github.com/stretchr/testify/suite"
)

// fakeBackend answers subscribe/unsubscribe round trips and current-value
// reads for macro expansion
type fakeBackend struct {
	lock            sync.Mutex
	commands        []string
	nextRemoteID    int64
	attributeValues map[string]string

	// answer subscribe round trips with no id at all
	replyWithoutID bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{attributeValues: map[string]string{}}
}

func (fb *fakeBackend) setAttributeText(objectID int64, attributeName string, value string) {
	fb.lock.Lock()
	defer fb.lock.Unlock()

	fb.attributeValues[fmt.Sprintf("%d/%s", objectID, attributeName)] = value
}

func (fb *fakeBackend) Cmd(ctx context.Context, text string) (interface{}, error) {
	fb.lock.Lock()
	defer fb.lock.Unlock()

	fb.commands = append(fb.commands, text)
	if fb.replyWithoutID {
		return nil, nil
	}

	fb.nextRemoteID++
	return fb.nextRemoteID, nil
}

func (fb *fakeBackend) CmdNoEval(ctx context.Context, text string) error {
	fb.lock.Lock()
	defer fb.lock.Unlock()

	fb.commands = append(fb.commands, text)
	return nil
}

func (fb *fakeBackend) ObjectAttributeText(ctx context.Context,
	objectID int64,
	attributeName string) (string, error) {

	fb.lock.Lock()
	defer fb.lock.Unlock()

	value, found := fb.attributeValues[fmt.Sprintf("%d/%s", objectID, attributeName)]
	if !found {
		return "", fmt.Errorf("no such attribute")
	}
	return value, nil
}

func (fb *fakeBackend) commandLog() []string {
	fb.lock.Lock()
	defer fb.lock.Unlock()

	log := make([]string, len(fb.commands))
	copy(log, fb.commands)
	return log
}

type DispatcherTestSuite struct {
	suite.Suite
	backend    *fakeBackend
	dispatcher *Dispatcher
	events     chan transport.Event
	ctx        context.Context
}

func (suite *DispatcherTestSuite) SetupTest() {
	testLogger, _ := nucliozap.NewNuclioZapTest("test")
	suite.backend = newFakeBackend()
	suite.dispatcher = NewDispatcher(testLogger, suite.backend)
	suite.events = make(chan transport.Event, 16)
	suite.dispatcher.Start(suite.events)
	suite.ctx = context.Background()
}

func (suite *DispatcherTestSuite) TearDownTest() {
	close(suite.events)
	suite.dispatcher.Stop()
}

// push an event and wait until the dispatcher has drained it
func (suite *DispatcherTestSuite) push(uri string) {
	suite.events <- transport.Event{URI: uri}
}

func (suite *DispatcherTestSuite) await(delivered <-chan string) string {
	select {
	case argument := <-delivered:
		return argument
	case <-time.After(5 * time.Second):
		suite.FailNow("Callback was not invoked")
		return ""
	}
}

func (suite *DispatcherTestSuite) TestSubscribeSendsRemoteCommand() {
	_, err := suite.dispatcher.Add(suite.ctx,
		ObjectTarget(42),
		"partname",
		[]attribute.Key{attribute.Named("VISIBLE")},
		func(string) {})
	suite.Require().NoError(err)

	suite.Require().Equal(
		[]string{`rv.event_subscribe("uid:42", [VISIBLE], "partname")`},
		suite.backend.commandLog())
	suite.Require().Equal(1, suite.dispatcher.Len())
}

func (suite *DispatcherTestSuite) TestMacroExpandsToCurrentValue() {
	suite.backend.setAttributeText(42, "VISIBLE", "42")

	delivered := make(chan string, 1)
	_, err := suite.dispatcher.Add(suite.ctx,
		ObjectTarget(42),
		"partname?val={{VISIBLE}}",
		[]attribute.Key{attribute.Named("VISIBLE")},
		func(argument string) { delivered <- argument })
	suite.Require().NoError(err)

	suite.push("rvev://host/PART/partname?enum=VISIBLE&uid=42")
	suite.Require().Equal("partname?val=42", suite.await(delivered))
}

func (suite *DispatcherTestSuite) TestMacroValuesAreQueryEscaped() {
	suite.backend.setAttributeText(42, "DESCRIPTION", "left hood")

	delivered := make(chan string, 1)
	_, err := suite.dispatcher.Add(suite.ctx,
		ObjectTarget(42),
		"part?desc={{DESCRIPTION}}",
		nil,
		func(argument string) { delivered <- argument })
	suite.Require().NoError(err)

	suite.push("rvev://host/PART/part?enum=DESCRIPTION&uid=42")
	suite.Require().Equal("part?desc=left+hood", suite.await(delivered))
}

func (suite *DispatcherTestSuite) TestLiteralTemplateGetsQueryParameters() {
	delivered := make(chan string, 1)
	_, err := suite.dispatcher.Add(suite.ctx,
		ObjectTarget(42),
		"partname",
		nil,
		func(argument string) { delivered <- argument })
	suite.Require().NoError(err)

	suite.push("rvev://host/PART/partname?enum=VISIBLE&uid=42")
	suite.Require().Equal("partname?enum=VISIBLE&uid=42", suite.await(delivered))
}

func (suite *DispatcherTestSuite) TestDeliveryOrderFollowsRegistrationOrder() {
	delivered := make(chan string, 2)

	_, err := suite.dispatcher.Add(suite.ctx, ObjectTarget(42), "first", nil,
		func(string) { delivered <- "first" })
	suite.Require().NoError(err)

	_, err = suite.dispatcher.Add(suite.ctx, ObjectTarget(42), "second", nil,
		func(string) { delivered <- "second" })
	suite.Require().NoError(err)

	suite.push("rvev://host/PART/partname?enum=VISIBLE&uid=42")
	suite.Require().Equal("first", suite.await(delivered))
	suite.Require().Equal("second", suite.await(delivered))
}

func (suite *DispatcherTestSuite) TestAttributeFilter() {
	delivered := make(chan string, 2)
	_, err := suite.dispatcher.Add(suite.ctx,
		ObjectTarget(42),
		"partname",
		[]attribute.Key{attribute.Named("VISIBLE")},
		func(argument string) { delivered <- argument })
	suite.Require().NoError(err)

	// watched attribute fires, unrelated one does not
	suite.push("rvev://host/PART/partname?enum=COLOR&uid=42")
	suite.push("rvev://host/PART/partname?enum=VISIBLE&uid=42")
	suite.Require().Equal("partname?enum=VISIBLE&uid=42", suite.await(delivered))
}

func (suite *DispatcherTestSuite) TestClassTargetMatchesAnyInstance() {
	delivered := make(chan string, 2)
	_, err := suite.dispatcher.Add(suite.ctx,
		ClassTarget("part"),
		"anypart",
		nil,
		func(argument string) { delivered <- argument })
	suite.Require().NoError(err)

	suite.push("rvev://host/PART/hood?enum=VISIBLE&uid=7")
	suite.Require().Equal("anypart?enum=VISIBLE&uid=7", suite.await(delivered))

	suite.push("rvev://host/PART/engine?enum=VISIBLE&uid=8")
	suite.Require().Equal("anypart?enum=VISIBLE&uid=8", suite.await(delivered))
}

func (suite *DispatcherTestSuite) TestCallbackPanicDoesNotStopDelivery() {
	delivered := make(chan string, 1)

	_, err := suite.dispatcher.Add(suite.ctx, ObjectTarget(42), "boom", nil,
		func(string) { panic("callback broke") })
	suite.Require().NoError(err)

	_, err = suite.dispatcher.Add(suite.ctx, ObjectTarget(42), "fine", nil,
		func(argument string) { delivered <- argument })
	suite.Require().NoError(err)

	suite.push("rvev://host/PART/partname?enum=VISIBLE&uid=42")
	suite.Require().Equal("fine?enum=VISIBLE&uid=42", suite.await(delivered))
}

func (suite *DispatcherTestSuite) TestRemoveUnsubscribesRemotely() {
	subscriptionID, err := suite.dispatcher.Add(suite.ctx,
		ObjectTarget(42), "partname", nil, func(string) {})
	suite.Require().NoError(err)

	suite.Require().NoError(suite.dispatcher.Remove(suite.ctx, subscriptionID))
	suite.Require().Contains(suite.backend.commandLog(), "rv.event_unsubscribe(1)")
	suite.Require().Equal(0, suite.dispatcher.Len())
	suite.Require().Equal(StateUnsubscribed, suite.dispatcher.State(subscriptionID))

	// removing twice is an error
	suite.Require().Error(suite.dispatcher.Remove(suite.ctx, subscriptionID))
}

func (suite *DispatcherTestSuite) TestSubscribeWithoutRemoteIDFails() {
	suite.backend.replyWithoutID = true

	_, err := suite.dispatcher.Add(suite.ctx, ObjectTarget(42), "partname", nil, func(string) {})
	suite.Require().Error(err)

	// nothing was registered, so nothing can later unsubscribe id 0
	suite.Require().Equal(0, suite.dispatcher.Len())
}

func (suite *DispatcherTestSuite) TestMalformedEventURIIsDiscarded() {
	delivered := make(chan string, 1)
	_, err := suite.dispatcher.Add(suite.ctx, ObjectTarget(42), "partname", nil,
		func(argument string) { delivered <- argument })
	suite.Require().NoError(err)

	// no uid - discarded; the following valid event still arrives
	suite.push("rvev://host/PART/partname?enum=VISIBLE")
	suite.push("rvev://host/PART/partname?enum=VISIBLE&uid=42")
	suite.Require().Equal("partname?enum=VISIBLE&uid=42", suite.await(delivered))
}

func TestDispatcherTestSuite(t *testing.T) {
	suite.Run(t, new(DispatcherTestSuite))
}
