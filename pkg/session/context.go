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
	"os"
	"time"

	"github.com/nuclio/errors"
	"github.com/vmihailenco/msgpack/v4"
)

// Context is a serializable snapshot of restorable remote view/object
// attribute state. It deliberately carries no dataset-loading information -
// data must be loaded before a restore
type Context struct {
	Payload         []byte    `msgpack:"payload"`
	Full            bool      `msgpack:"full"`
	ProtocolVersion string    `msgpack:"protocol_version"`
	CapturedAt      time.Time `msgpack:"captured_at"`
	SessionID       string    `msgpack:"session_id"`
}

// CaptureContext snapshots the restorable state of the remote object graph.
// When full is set, the capture includes the complete object tree rather than
// just the view state
func (s *Session) CaptureContext(ctx context.Context, full bool) (*Context, error) {
	if err := s.guard("capture_context"); err != nil {
		return nil, err
	}

	fullLiteral := "False"
	if full {
		fullLiteral = "True"
	}

	rawValue, err := s.Cmd(ctx, fmt.Sprintf("rv.ctx_capture(%s)", fullLiteral))
	if err != nil {
		return nil, errors.Wrap(err, "Failed to capture remote context")
	}

	payload, err := payloadBytes(rawValue)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to decode captured context payload")
	}

	remoteVersionText := ""
	if s.remoteVersion != nil {
		remoteVersionText = s.remoteVersion.String()
	}

	return &Context{
		Payload:         payload,
		Full:            full,
		ProtocolVersion: remoteVersionText,
		CapturedAt:      time.Now().UTC(),
		SessionID:       s.id,
	}, nil
}

// RestoreContext replays a captured snapshot into the remote process. The
// capture is byte-exact, so restoring against the same object graph
// reproduces the captured attribute state precisely
func (s *Session) RestoreContext(ctx context.Context, capturedContext *Context) error {
	if err := s.guard("restore_context"); err != nil {
		return err
	}

	if capturedContext == nil || len(capturedContext.Payload) == 0 {
		return errors.New("Cannot restore an empty context")
	}

	encodedPayload := base64.StdEncoding.EncodeToString(capturedContext.Payload)

	if err := s.CmdNoEval(ctx, fmt.Sprintf(`rv.ctx_restore("%s")`, encodedPayload)); err != nil {
		return errors.Wrap(err, "Failed to restore remote context")
	}

	return nil
}

// Save writes the context to a file. The payload round-trips byte-exact
func (c *Context) Save(path string) error {
	encodedContext, err := msgpack.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "Failed to encode context")
	}

	if err := os.WriteFile(path, encodedContext, 0644); err != nil {
		return errors.Wrapf(err, "Failed to write context file %s", path)
	}

	return nil
}

// LoadContext reads a context previously written by Save
func LoadContext(path string) (*Context, error) {
	encodedContext, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to read context file %s", path)
	}

	loadedContext := Context{}
	if err := msgpack.Unmarshal(encodedContext, &loadedContext); err != nil {
		return nil, errors.Wrapf(err, "Failed to decode context file %s", path)
	}

	if len(loadedContext.Payload) == 0 {
		return nil, errors.Errorf("Context file %s holds no capture payload", path)
	}

	return &loadedContext, nil
}

func payloadBytes(rawValue interface{}) ([]byte, error) {
	switch typedValue := rawValue.(type) {
	case []byte:
		return typedValue, nil
	case string:

		// some remote versions report the blob base64 encoded
		if decodedPayload, err := base64.StdEncoding.DecodeString(typedValue); err == nil {
			return decodedPayload, nil
		}
		return []byte(typedValue), nil
	default:
		return nil, errors.Errorf("Unsupported context payload type %T", rawValue)
	}
}
