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

package cmdrunner

import (
	"strings"
)

// CaptureOutputMode controls how run output is captured
type CaptureOutputMode int

const (

	// CaptureOutputModeCombined leaves both stdout and stderr in Output
	CaptureOutputModeCombined CaptureOutputMode = iota

	// CaptureOutputModeStdout splits stdout into Output and stderr into Stderr
	CaptureOutputModeStdout
)

// RunOptions specifies options to CmdRunner.Run
type RunOptions struct {
	WorkingDir        *string
	Stdin             *string
	Env               map[string]string
	CaptureOutputMode CaptureOutputMode

	// LogRedactions are substrings scrubbed from logged and returned output.
	// The launcher passes the session secret key through here so it never
	// reaches a log sink
	LogRedactions []string

	LogOnlyOnFailure bool
}

// RunResult holds the result of a command run
type RunResult struct {
	Output   string
	Stderr   string
	ExitCode int
}

// CmdRunner specifies the interface to an underlying command runner
type CmdRunner interface {

	// Run runs a command, given options
	Run(runOptions *RunOptions, format string, vars ...interface{}) (RunResult, error)
}

// Redact replaces all redaction substrings in runOutput
func Redact(redactions []string, runOutput string) string {
	if redactions == nil {
		return runOutput
	}

	var replacements []string

	for _, redactionField := range redactions {
		replacements = append(replacements, redactionField, "[redacted]")
	}

	replacer := strings.NewReplacer(replacements...)
	return replacer.Replace(runOutput)
}
