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
	"github.com/vmihailenco/msgpack/v4"
)

// Codec is a grpc codec that frames messages as msgpack rather than protobuf.
// The wire messages are plain structs, so no generated code is involved on
// either side of the channel
type Codec struct{}

// Marshal encodes a wire message as msgpack
func (Codec) Marshal(value interface{}) ([]byte, error) {
	return msgpack.Marshal(value)
}

// Unmarshal decodes a msgpack wire message
func (Codec) Unmarshal(data []byte, value interface{}) error {
	return msgpack.Unmarshal(data, value)
}

// Name returns the codec's registration name
func (Codec) Name() string {
	return "msgpack"
}

// commandRequest is the unary command round trip request
type commandRequest struct {
	Command string `msgpack:"command"`
	DoEval  bool   `msgpack:"do_eval"`
}

// commandResponse carries either a decoded value or a remote-side failure
type commandResponse struct {
	Value interface{} `msgpack:"value"`
	Error string      `msgpack:"error"`
}

// eventStreamRequest opens the push notification stream
type eventStreamRequest struct {
	Prefix string `msgpack:"prefix"`
}

// eventMessage is a single pushed notification
type eventMessage struct {
	URI string `msgpack:"uri"`
}
