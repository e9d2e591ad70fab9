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

package transport

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ansys/pyensight-sub001/pkg/rverror"

	"github.com/nuclio/logger"
	"github.com/nuclio/zap"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// testServer is a loopback implementation of the session service, speaking the
// same msgpack wire messages as the real remote process
type testServer struct {
	lock    sync.Mutex
	handler func(request *commandRequest) *commandResponse
	events  []eventMessage
	secret  string
}

func (ts *testServer) setHandler(handler func(request *commandRequest) *commandResponse) {
	ts.lock.Lock()
	defer ts.lock.Unlock()
	ts.handler = handler
}

func (ts *testServer) authorize(ctx context.Context) error {
	ts.lock.Lock()
	expectedSecret := ts.secret
	ts.lock.Unlock()

	if expectedSecret == "" {
		return nil
	}

	requestMetadata, _ := metadata.FromIncomingContext(ctx)
	secrets := requestMetadata.Get("shared_secret")
	if len(secrets) == 0 || secrets[0] != expectedSecret {
		return status.Error(codes.Unauthenticated, "bad secret")
	}

	return nil
}

func (ts *testServer) handleCommand(ctx context.Context, request *commandRequest) (*commandResponse, error) {
	if err := ts.authorize(ctx); err != nil {
		return nil, err
	}

	ts.lock.Lock()
	handler := ts.handler
	ts.lock.Unlock()

	if handler == nil {
		return &commandResponse{}, nil
	}

	return handler(request), nil
}

func (ts *testServer) handleEvents(stream grpc.ServerStream) error {
	request := eventStreamRequest{}
	if err := stream.RecvMsg(&request); err != nil {
		return err
	}

	if err := ts.authorize(stream.Context()); err != nil {
		return err
	}

	ts.lock.Lock()
	pendingEvents := make([]eventMessage, len(ts.events))
	copy(pendingEvents, ts.events)
	ts.lock.Unlock()

	for _, pendingEvent := range pendingEvents {
		message := pendingEvent
		if err := stream.SendMsg(&message); err != nil {
			return err
		}
	}

	// hold the stream open until the client goes away
	<-stream.Context().Done()
	return nil
}

var testServiceDesc = grpc.ServiceDesc{
	ServiceName: "remotevis.v1.Session",
	HandlerType: (*interface{})(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Command",
			Handler: func(srv interface{},
				ctx context.Context,
				dec func(interface{}) error,
				interceptor grpc.UnaryServerInterceptor) (interface{}, error) {

				request := commandRequest{}
				if err := dec(&request); err != nil {
					return nil, err
				}

				return srv.(*testServer).handleCommand(ctx, &request)
			},
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Events",
			ServerStreams: true,
			Handler: func(srv interface{}, stream grpc.ServerStream) error {
				return srv.(*testServer).handleEvents(stream)
			},
		},
	},
}

type GRPCTransportTestSuite struct {
	suite.Suite
	logger     logger.Logger
	server     *testServer
	grpcServer *grpc.Server
	port       int
}

func (suite *GRPCTransportTestSuite) SetupTest() {
	suite.logger, _ = nucliozap.NewNuclioZapTest("test")
	suite.server = &testServer{}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	suite.Require().NoError(err)
	suite.port = listener.Addr().(*net.TCPAddr).Port

	suite.grpcServer = grpc.NewServer(grpc.ForceServerCodec(Codec{}))
	suite.grpcServer.RegisterService(&testServiceDesc, suite.server)

	go suite.grpcServer.Serve(listener) // nolint: errcheck
}

func (suite *GRPCTransportTestSuite) TearDownTest() {
	suite.grpcServer.Stop()
}

func (suite *GRPCTransportTestSuite) newConnectedTransport(config Config) *GRPCTransport {
	config.Host = "127.0.0.1"
	config.Port = suite.port

	newTransport := NewGRPCTransport(suite.logger, config)
	suite.Require().NoError(newTransport.Connect(context.Background()))
	return newTransport
}

func (suite *GRPCTransportTestSuite) TestCommandRoundTrip() {
	suite.server.setHandler(func(request *commandRequest) *commandResponse {
		suite.Require().True(request.DoEval)
		suite.Require().Equal("rv.root()", request.Command)
		return &commandResponse{Value: map[string]interface{}{ObjectRefKey: int64(1)}}
	})

	testTransport := suite.newConnectedTransport(Config{})
	defer testTransport.Shutdown(false) // nolint: errcheck

	value, err := testTransport.Command(context.Background(), "rv.root()", true)
	suite.Require().NoError(err)

	valueMap, ok := value.(map[string]interface{})
	suite.Require().True(ok)
	suite.Require().EqualValues(1, valueMap[ObjectRefKey])
}

func (suite *GRPCTransportTestSuite) TestRemoteFailureBecomesRemoteOperationError() {
	suite.server.setHandler(func(request *commandRequest) *commandResponse {
		return &commandResponse{Error: "AttributeError: no such attribute"}
	})

	testTransport := suite.newConnectedTransport(Config{})
	defer testTransport.Shutdown(false) // nolint: errcheck

	_, err := testTransport.Command(context.Background(), "rv.obj_getattr(1, BAD)", true)
	suite.Require().Error(err)
	suite.Require().True(rverror.IsRemoteOperationError(err))
	suite.Require().True(testTransport.IsConnected())
}

func (suite *GRPCTransportTestSuite) TestTimeoutLeavesChannelUsable() {
	slow := true
	suite.server.setHandler(func(request *commandRequest) *commandResponse {
		if slow {
			slow = false
			time.Sleep(time.Second)
		}
		return &commandResponse{Value: "done"}
	})

	testTransport := suite.newConnectedTransport(Config{Timeout: 200 * time.Millisecond})
	defer testTransport.Shutdown(false) // nolint: errcheck

	_, err := testTransport.Command(context.Background(), "rv.slow()", true)
	suite.Require().Error(err)
	suite.Require().True(rverror.IsTimeoutError(err))
	suite.Require().True(testTransport.IsConnected())

	value, err := testTransport.Command(context.Background(), "rv.fast()", true)
	suite.Require().NoError(err)
	suite.Require().Equal("done", value)
}

func (suite *GRPCTransportTestSuite) TestEventsArriveInEmissionOrder() {
	suite.server.events = []eventMessage{
		{URI: "rvev://host/PART/hood?enum=VISIBLE&uid=1"},
		{URI: "rvev://host/PART/engine?enum=VISIBLE&uid=2"},
	}

	testTransport := suite.newConnectedTransport(Config{})
	defer testTransport.Shutdown(false) // nolint: errcheck

	for _, expectedURI := range []string{
		"rvev://host/PART/hood?enum=VISIBLE&uid=1",
		"rvev://host/PART/engine?enum=VISIBLE&uid=2",
	} {
		select {
		case pushedEvent := <-testTransport.Events():
			suite.Require().Equal(expectedURI, pushedEvent.URI)
		case <-time.After(5 * time.Second):
			suite.FailNow("Event was not pushed")
		}
	}
}

func (suite *GRPCTransportTestSuite) TestRejectedSecretKey() {
	suite.server.secret = "right"

	testTransport := suite.newConnectedTransport(Config{SecretKey: "wrong"})
	defer testTransport.Shutdown(false) // nolint: errcheck

	_, err := testTransport.Command(context.Background(), "rv.root()", true)
	suite.Require().Error(err)
	suite.Require().True(rverror.IsConnectionError(err))
}

func (suite *GRPCTransportTestSuite) TestAcceptedSecretKey() {
	suite.server.secret = "right"
	suite.server.setHandler(func(request *commandRequest) *commandResponse {
		return &commandResponse{Value: "ok"}
	})

	testTransport := suite.newConnectedTransport(Config{SecretKey: "right"})
	defer testTransport.Shutdown(false) // nolint: errcheck

	value, err := testTransport.Command(context.Background(), "rv.root()", true)
	suite.Require().NoError(err)
	suite.Require().Equal("ok", value)
}

func (suite *GRPCTransportTestSuite) TestCommandBeforeConnectFails() {
	newTransport := NewGRPCTransport(suite.logger, Config{Host: "127.0.0.1", Port: suite.port})

	_, err := newTransport.Command(context.Background(), "rv.root()", true)
	suite.Require().Error(err)
	suite.Require().True(rverror.IsConnectionError(err))
}

func TestGRPCTransportTestSuite(t *testing.T) {
	suite.Run(t, new(GRPCTransportTestSuite))
}
