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
	"fmt"
	"strconv"
	"strings"

	"github.com/ansys/pyensight-sub001/pkg/attribute"
	"github.com/ansys/pyensight-sub001/pkg/rverror"

	"github.com/coreos/go-semver/semver"
	"github.com/nuclio/errors"
)

// ProtocolVersion is the protocol level this library speaks. Exec ships local
// code into the remote interpreter, so the remote side must report a matching
// major.minor before any source crosses the wire
const ProtocolVersion = "1.2.0"

// Exec ships functionSource for execution inside the remote interpreter,
// passing args as its arguments, and returns the decoded result. A protocol
// version mismatch fails with a version error rather than risking a silently
// corrupted result
func (s *Session) Exec(ctx context.Context,
	functionSource string,
	args ...interface{}) (interface{}, error) {

	if err := s.guard("exec"); err != nil {
		return nil, err
	}

	if err := s.checkProtocolVersion(ctx); err != nil {
		return nil, err
	}

	encodedArgs := make([]string, 0, len(args))
	for _, arg := range args {
		encodedArgs = append(encodedArgs, attribute.EncodeValue(arg))
	}

	commandText := fmt.Sprintf("rv.exec(%s, [%s])",
		strconv.Quote(functionSource),
		strings.Join(encodedArgs, ", "))

	return s.Cmd(ctx, commandText)
}

// checkProtocolVersion compares the local protocol level against the remote's
// reported version. Major and minor must both match; patch level is free
func (s *Session) checkProtocolVersion(ctx context.Context) error {
	if s.remoteVersion == nil {
		if err := s.resolveRemoteVersion(ctx); err != nil {
			return errors.Wrap(err, "Failed to resolve remote protocol version")
		}
	}

	localVersion := semver.New(ProtocolVersion)

	if localVersion.Major != s.remoteVersion.Major || localVersion.Minor != s.remoteVersion.Minor {
		return errors.Wrap(&rverror.ProtocolVersionError{
			LocalVersion:  ProtocolVersion,
			RemoteVersion: s.remoteVersion.String(),
		}, "Refusing to ship code to a mismatched remote interpreter")
	}

	return nil
}
