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

package dockerclient

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ansys/pyensight-sub001/pkg/cmdrunner"

	"github.com/docker/distribution/reference"
	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
)

// restrictedNameChars collects the characters allowed to represent a network or container name
const restrictedNameChars = `[a-zA-Z0-9][a-zA-Z0-9_.-]`

// taken from moby and used to validate names (network, container, labels)
var restrictedNameRegex = regexp.MustCompile(`^/?` + restrictedNameChars + `+$`)

var containerIDRegex = regexp.MustCompile(`^[\w+-\.]+$`)

// loose regexes, today just prohibit whitespaces
var volumeNameRegex = regexp.MustCompile(`^[\S]+$`)

var envVarNameRegex = regexp.MustCompile(`^[^=]+$`)

// ShellClient is a docker client that uses the shell to communicate with docker
type ShellClient struct {
	logger         logger.Logger
	cmdRunner      cmdrunner.CmdRunner
	redactedValues []string
}

// NewShellClient creates a new docker client. redactedValues are scrubbed
// from every logged command - the launcher registers the session secret here
func NewShellClient(parentLogger logger.Logger,
	runner cmdrunner.CmdRunner,
	redactedValues []string) (*ShellClient, error) {

	var err error

	newClient := &ShellClient{
		logger:         parentLogger.GetChild("docker"),
		cmdRunner:      runner,
		redactedValues: redactedValues,
	}

	if newClient.cmdRunner == nil {
		newClient.cmdRunner, err = cmdrunner.NewShellRunner(newClient.logger)
		if err != nil {
			return nil, errors.Wrap(err, "Failed to create command runner")
		}
	}

	// verify
	if _, err := newClient.cmdRunner.Run(nil, "docker version"); err != nil {
		return nil, errors.Wrap(err, "No docker client found")
	}

	return newClient, nil
}

// RunContainer runs a detached container from an image, returning its ID
func (c *ShellClient) RunContainer(imageName string, runOptions *RunOptions) (string, error) {
	c.logger.DebugWith("Running container", "imageName", imageName, "containerName", runOptions.ContainerName)

	// validate the given run options against malicious contents
	if err := c.validateRunOptions(imageName, runOptions); err != nil {
		return "", errors.Wrap(err, "Invalid run options passed")
	}

	portsArgument := ""
	for localPort, containerPort := range runOptions.Ports {
		portsArgument += fmt.Sprintf("-p %d:%d ", localPort, containerPort)
	}

	removeContainer := ""
	if runOptions.Remove {
		removeContainer = "--rm"
	}

	nameArgument := ""
	if runOptions.ContainerName != "" {
		nameArgument = fmt.Sprintf("--name %s", runOptions.ContainerName)
	}

	netArgument := ""
	if runOptions.Network != "" {
		netArgument = fmt.Sprintf("--net %s", runOptions.Network)
	}

	labelArgument := ""
	for labelName, labelValue := range runOptions.Labels {
		labelArgument += fmt.Sprintf("--label %s='%s' ", labelName, c.replaceSingleQuotes(labelValue))
	}

	envArgument := ""
	for envName, envValue := range runOptions.Env {
		envArgument += fmt.Sprintf("--env %s='%s' ", envName, envValue)
	}

	volumeArgument := ""
	for volumeHostPath, volumeContainerPath := range runOptions.Volumes {
		volumeArgument += fmt.Sprintf("--volume %s:%s ", volumeHostPath, volumeContainerPath)
	}

	runResult, err := c.cmdRunner.Run(
		&cmdrunner.RunOptions{
			CaptureOutputMode: cmdrunner.CaptureOutputModeStdout,
			LogRedactions:     c.redactedValues,
		},
		"docker run -d %s %s %s %s %s %s %s %s %s",
		removeContainer,
		portsArgument,
		nameArgument,
		netArgument,
		labelArgument,
		envArgument,
		volumeArgument,
		imageName,
		runOptions.Command)

	if err != nil {
		c.logger.WarnWith("Failed to run container",
			"err", err,
			"stdout", runResult.Output,
			"stderr", runResult.Stderr)

		return "", err
	}

	stdoutLines := strings.Split(runResult.Output, "\n")
	lastStdoutLine := c.getLastNonEmptyLine(stdoutLines, 0)

	// normally this command produces only the container ID
	if strings.Contains(lastStdoutLine, " ") {

		// an implicit image pull pushes the ID one line up
		if !runOptions.ImageMayNotExist {
			return "", errors.Errorf("Output from docker command includes more than just ID: %s", lastStdoutLine)
		}

		lastStdoutLine = c.getLastNonEmptyLine(stdoutLines, 1)
	}

	return lastStdoutLine, nil
}

// RemoveContainer force removes a container by ID or name
func (c *ShellClient) RemoveContainer(containerID string) error {
	c.logger.DebugWith("Removing container", "containerID", containerID)

	// containerID is ID or name
	if !containerIDRegex.MatchString(containerID) && !restrictedNameRegex.MatchString(containerID) {
		return errors.New("Invalid container ID name in remove container")
	}

	_, err := c.runCommand(nil, "docker rm -f %s", containerID)
	return err
}

// GetContainerLogs returns raw logs from a given container ID.
// Concatenating stdout and stderr since there's no way to re-interlace them
func (c *ShellClient) GetContainerLogs(containerID string) (string, error) {
	c.logger.DebugWith("Getting container logs", "containerID", containerID)

	// containerID is ID or name
	if !containerIDRegex.MatchString(containerID) && !restrictedNameRegex.MatchString(containerID) {
		return "", errors.New("Invalid container ID to get logs from")
	}

	runOptions := &cmdrunner.RunOptions{
		CaptureOutputMode: cmdrunner.CaptureOutputModeCombined,
	}

	runResult, err := c.runCommand(runOptions, "docker logs %s", containerID)
	return runResult.Output, err
}

// GetContainers returns containers matching the given criteria
func (c *ShellClient) GetContainers(options *GetContainerOptions) ([]Container, error) {
	c.logger.DebugWith("Getting containers", "options", options)

	if err := c.validateGetContainerOptions(options); err != nil {
		return nil, errors.Wrap(err, "Invalid get container options passed")
	}

	stoppedContainersArgument := ""
	if options.Stopped {
		stoppedContainersArgument = "--all "
	}

	nameFilterArgument := ""
	if options.Name != "" {
		nameFilterArgument = fmt.Sprintf(`--filter "name=^/%s$" `, options.Name)
	}

	labelFilterArgument := ""
	for labelName, labelValue := range options.Labels {
		labelFilterArgument += fmt.Sprintf(`--filter "label=%s=%s" `,
			labelName,
			labelValue)
	}

	runResult, err := c.runCommand(nil,
		"docker ps --quiet %s %s %s",
		stoppedContainersArgument,
		nameFilterArgument,
		labelFilterArgument)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to get containers")
	}

	containerIDsAsString := strings.TrimSpace(runResult.Output)
	if len(containerIDsAsString) == 0 {
		return []Container{}, nil
	}

	runResult, err = c.runCommand(nil,
		"docker inspect %s",
		strings.Replace(containerIDsAsString, "\n", " ", -1))
	if err != nil {
		return nil, errors.Wrap(err, "Failed to inspect containers")
	}

	var containersInfo []Container

	// parse the result
	if err := json.Unmarshal([]byte(runResult.Output), &containersInfo); err != nil {
		return nil, errors.Wrap(err, "Failed to parse inspect response")
	}

	return containersInfo, nil
}

// AwaitContainerHealth blocks until the given container is healthy or the timeout passes
func (c *ShellClient) AwaitContainerHealth(containerID string, timeout *time.Duration) error {
	c.logger.DebugWith("Awaiting container health", "containerID", containerID, "timeout", timeout)

	if !containerIDRegex.MatchString(containerID) && !restrictedNameRegex.MatchString(containerID) {
		return errors.New("Invalid container ID to await health for")
	}

	timedOut := false

	containerHealthy := make(chan error, 1)
	var timeoutChan <-chan time.Time

	// if no timeout is given, create a channel that we'll never send on
	if timeout == nil {
		timeoutChan = make(<-chan time.Time, 1)
	} else {
		timeoutChan = time.After(*timeout)
	}

	go func() {

		// start with a small interval between health checks, increasing it gradually
		inspectInterval := 100 * time.Millisecond

		for !timedOut {
			runResult, err := c.runCommand(nil,
				"docker inspect --format '{{json .State.Health.Status}}' %s",
				containerID)
			if err == nil {
				stdoutLines := strings.Split(runResult.Output, "\n")
				lastStdoutLine := c.getLastNonEmptyLine(stdoutLines, 0)

				if lastStdoutLine == `"healthy"` {
					containerHealthy <- nil
					return
				}
			}

			time.Sleep(inspectInterval)

			if inspectInterval < 800*time.Millisecond {
				inspectInterval *= 2
			}
		}
	}()

	select {
	case <-containerHealthy:
		c.logger.Debug("Container is healthy")
	case <-timeoutChan:
		timedOut = true

		containerLogs, err := c.GetContainerLogs(containerID)
		if err != nil {
			c.logger.ErrorWith("Container wasn't healthy within timeout (failed to get logs)",
				"timeout", timeout,
				"err", err)
		} else {
			c.logger.WarnWith("Container wasn't healthy within timeout",
				"timeout", timeout,
				"logs", containerLogs)
		}

		return errors.New("Container wasn't healthy in time")
	}

	return nil
}

func (c *ShellClient) runCommand(runOptions *cmdrunner.RunOptions,
	format string,
	vars ...interface{}) (cmdrunner.RunResult, error) {

	if runOptions == nil {
		runOptions = &cmdrunner.RunOptions{
			CaptureOutputMode: cmdrunner.CaptureOutputModeStdout,
		}
	}

	runOptions.LogRedactions = append(runOptions.LogRedactions, c.redactedValues...)

	runResult, err := c.cmdRunner.Run(runOptions, format, vars...)

	if runOptions.CaptureOutputMode == cmdrunner.CaptureOutputModeStdout && runResult.Stderr != "" {
		c.logger.WarnWith("Docker command outputted to stderr - this may result in errors",
			"cmd", cmdrunner.Redact(runOptions.LogRedactions, fmt.Sprintf(format, vars...)),
			"stderr", runResult.Stderr)
	}

	return runResult, err
}

func (c *ShellClient) getLastNonEmptyLine(lines []string, offset int) string {
	numLines := len(lines)

	// protect ourselves from overflows
	if offset >= numLines {
		offset = numLines - 1
	} else if offset < 0 {
		offset = 0
	}

	// iterate backwards over the lines
	for idx := numLines - 1 - offset; idx >= 0; idx-- {
		if lines[idx] != "" {
			return lines[idx]
		}
	}

	return ""
}

func (c *ShellClient) replaceSingleQuotes(input string) string {
	return strings.Replace(input, "'", "’", -1)
}

func (c *ShellClient) validateRunOptions(imageName string, runOptions *RunOptions) error {
	if _, err := reference.Parse(imageName); err != nil {
		return errors.Wrap(err, "Invalid image name passed to run command")
	}

	// container name can't be empty
	if runOptions.ContainerName != "" && !restrictedNameRegex.MatchString(runOptions.ContainerName) {
		return errors.New("Invalid container name in run options")
	}

	for envVarName := range runOptions.Env {
		if !envVarNameRegex.MatchString(envVarName) {
			return errors.New("Invalid env var name in run options")
		}
	}

	for volumeHostPath, volumeContainerPath := range runOptions.Volumes {
		if !volumeNameRegex.MatchString(volumeHostPath) {
			return errors.New("Invalid volume host path in run options")
		}
		if !volumeNameRegex.MatchString(volumeContainerPath) {
			return errors.New("Invalid volume container path in run options")
		}
	}

	if runOptions.Network != "" && !restrictedNameRegex.MatchString(runOptions.Network) {
		return errors.New("Invalid network name in run options")
	}

	return nil
}

func (c *ShellClient) validateGetContainerOptions(options *GetContainerOptions) error {
	if options.Name != "" && !restrictedNameRegex.MatchString(options.Name) {
		return errors.New("Invalid container name in get container options")
	}

	return nil
}
