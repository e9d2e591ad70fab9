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

package launcher

import (
	"encoding/base64"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ansys/pyensight-sub001/pkg/dockerclient"

	"github.com/mitchellh/go-homedir"
	"github.com/mitchellh/mapstructure"
	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	"github.com/rs/xid"
	"github.com/vmihailenco/msgpack/v4"
	"golang.org/x/sync/errgroup"
)

const (
	containerLabel       = "remotevis-launcher"
	containerConfigLabel = "remotevis-config"

	defaultImage        = "remotevis/server:latest"
	defaultReadyTimeout = 60 * time.Second

	// bound on teardown before declaring failure
	defaultStopTimeout = 120 * time.Second
)

// LaunchOptions tunes how the docker launcher starts the server container
type LaunchOptions struct {
	Image            string
	ContainerName    string
	SessionDirectory string

	// zero ports are allocated from the ephemeral range
	GRPCPort int
	HTMLPort int
	WSPort   int

	ReadyTimeout time.Duration
	StopTimeout  time.Duration
}

// DockerLauncher runs the remote visualization server in a local docker
// container and refcounts the sessions sharing it
type DockerLauncher struct {
	logger       logger.Logger
	dockerClient dockerclient.Client
	options      LaunchOptions
	config       *Config
	containerID  string

	lock     sync.Mutex
	sessions map[string]struct{}
	stopped  bool
}

// NewDockerLauncher creates a launcher; Start actually runs the container
func NewDockerLauncher(parentLogger logger.Logger,
	dockerClient dockerclient.Client,
	options LaunchOptions) (*DockerLauncher, error) {

	if options.Image == "" {
		options.Image = defaultImage
	}
	if options.ContainerName == "" {
		options.ContainerName = "remotevis-" + xid.New().String()
	}
	if options.ReadyTimeout == 0 {
		options.ReadyTimeout = defaultReadyTimeout
	}
	if options.StopTimeout == 0 {
		options.StopTimeout = defaultStopTimeout
	}

	if options.SessionDirectory == "" {
		homeDirectory, err := homedir.Dir()
		if err != nil {
			return nil, errors.Wrap(err, "Failed to resolve home directory")
		}
		options.SessionDirectory = filepath.Join(homeDirectory, ".remotevis", "sessions", options.ContainerName)
	}

	return &DockerLauncher{
		logger:       parentLogger.GetChild("launcher"),
		dockerClient: dockerClient,
		options:      options,
		sessions:     map[string]struct{}{},
	}, nil
}

// Start runs the server container, waits for its grpc endpoint to accept
// connections and returns the session connection parameters
func (dl *DockerLauncher) Start() (*Config, error) {
	secretKey := xid.New().String()

	grpcPort, err := resolvePort(dl.options.GRPCPort)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to allocate grpc port")
	}

	htmlPort, err := resolvePort(dl.options.HTMLPort)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to allocate html port")
	}

	wsPort, err := resolvePort(dl.options.WSPort)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to allocate websocket port")
	}

	if err := os.MkdirAll(dl.options.SessionDirectory, 0755); err != nil {
		return nil, errors.Wrap(err, "Failed to create session directory")
	}

	launchConfig := &Config{
		Host:             "127.0.0.1",
		GRPCPort:         grpcPort,
		HTMLPort:         htmlPort,
		WSPort:           wsPort,
		SecretKey:        secretKey,
		InstallPath:      "/opt/remotevis",
		SessionDirectory: dl.options.SessionDirectory,
	}

	encodedConfig, err := encodeConfigLabel(launchConfig)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to encode launch configuration")
	}

	containerID, err := dl.dockerClient.RunContainer(dl.options.Image, &dockerclient.RunOptions{
		ContainerName: dl.options.ContainerName,
		Ports: map[int]int{
			grpcPort: grpcPort,
			htmlPort: htmlPort,
			wsPort:   wsPort,
		},
		Env: map[string]string{
			"REMOTEVIS_SECRET_KEY": secretKey,
			"REMOTEVIS_GRPC_PORT":  fmt.Sprintf("%d", grpcPort),
			"REMOTEVIS_HTML_PORT":  fmt.Sprintf("%d", htmlPort),
			"REMOTEVIS_WS_PORT":    fmt.Sprintf("%d", wsPort),
		},
		Labels: map[string]string{
			containerLabel:       dl.options.ContainerName,
			containerConfigLabel: encodedConfig,
		},
		Volumes: map[string]string{
			dl.options.SessionDirectory: "/data",
		},
		ImageMayNotExist: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "Failed to run server container")
	}

	dl.containerID = containerID
	dl.config = launchConfig

	if err := dl.waitForEndpoint(launchConfig.Host, grpcPort); err != nil {
		dl.logContainerFailure()
		return nil, errors.Wrap(err, "Server container never became reachable")
	}

	dl.logger.InfoWith("Server container started",
		"containerID", containerID,
		"grpcPort", grpcPort)

	return launchConfig, nil
}

// ReattachDockerLauncher binds a launcher to an already running server
// container, recovering the connection parameters from its labels
func ReattachDockerLauncher(parentLogger logger.Logger,
	dockerClient dockerclient.Client,
	containerName string) (*DockerLauncher, error) {

	containers, err := dockerClient.GetContainers(&dockerclient.GetContainerOptions{
		Labels: map[string]string{containerLabel: containerName},
	})
	if err != nil {
		return nil, errors.Wrap(err, "Failed to look up server container")
	}

	if len(containers) == 0 {
		return nil, errors.Errorf("No running server container labeled %q", containerName)
	}

	container := containers[0]
	if container.Config == nil {
		return nil, errors.Errorf("Container %s carries no configuration", container.ID)
	}

	recoveredConfig, err := decodeConfigLabel(container.Config.Labels[containerConfigLabel])
	if err != nil {
		return nil, errors.Wrap(err, "Failed to recover launch configuration from container labels")
	}

	newLauncher := &DockerLauncher{
		logger:       parentLogger.GetChild("launcher"),
		dockerClient: dockerClient,
		options:      LaunchOptions{ContainerName: containerName, StopTimeout: defaultStopTimeout},
		config:       recoveredConfig,
		containerID:  container.ID,
		sessions:     map[string]struct{}{},
	}

	return newLauncher, nil
}

// Config returns the connection parameters of the launched process
func (dl *DockerLauncher) Config() *Config {
	return dl.config
}

// Register records a session as using the launched process
func (dl *DockerLauncher) Register(sessionID string) {
	dl.lock.Lock()
	defer dl.lock.Unlock()

	dl.sessions[sessionID] = struct{}{}

	dl.logger.DebugWith("Session registered",
		"sessionID", sessionID,
		"sessionCount", len(dl.sessions))
}

// Unregister removes a session. The remote process is stopped only when the
// last session goes away
func (dl *DockerLauncher) Unregister(sessionID string) error {
	dl.lock.Lock()
	delete(dl.sessions, sessionID)
	remainingSessions := len(dl.sessions)
	dl.lock.Unlock()

	dl.logger.DebugWith("Session unregistered",
		"sessionID", sessionID,
		"remainingSessions", remainingSessions)

	if remainingSessions != 0 {
		return nil
	}

	return dl.Stop()
}

// Stop removes the server container and its auxiliary state, bounded by the
// configured stop timeout
func (dl *DockerLauncher) Stop() error {
	dl.lock.Lock()
	if dl.stopped {
		dl.lock.Unlock()
		return nil
	}
	dl.stopped = true
	dl.lock.Unlock()

	dl.logger.DebugWith("Stopping server container", "containerID", dl.containerID)

	teardownGroup := errgroup.Group{}

	teardownGroup.Go(func() error {
		if dl.containerID == "" {
			return nil
		}
		return dl.dockerClient.RemoveContainer(dl.containerID)
	})

	teardownGroup.Go(func() error {
		if dl.config == nil || dl.config.SessionDirectory == "" {
			return nil
		}

		// transient launcher scratch only; captured contexts and user data
		// saved elsewhere are untouched
		return os.RemoveAll(filepath.Join(dl.config.SessionDirectory, "scratch"))
	})

	teardownDone := make(chan error, 1)
	go func() {
		teardownDone <- teardownGroup.Wait()
	}()

	select {
	case err := <-teardownDone:
		if err != nil {
			return errors.Wrap(err, "Failed to stop server container")
		}
		return nil
	case <-time.After(dl.options.StopTimeout):
		return errors.Errorf("Teardown did not finish within %s", dl.options.StopTimeout)
	}
}

// SessionCount returns the number of registered sessions
func (dl *DockerLauncher) SessionCount() int {
	dl.lock.Lock()
	defer dl.lock.Unlock()

	return len(dl.sessions)
}

// waitForEndpoint polls the grpc endpoint until it accepts a connection
func (dl *DockerLauncher) waitForEndpoint(host string, port int) error {
	deadline := time.Now().Add(dl.options.ReadyTimeout)
	address := fmt.Sprintf("%s:%d", host, port)

	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", address, time.Second)
		if err == nil {
			_ = conn.Close() // nolint: errcheck
			return nil
		}

		time.Sleep(250 * time.Millisecond)
	}

	return errors.Errorf("Endpoint %s not reachable within %s", address, dl.options.ReadyTimeout)
}

func (dl *DockerLauncher) logContainerFailure() {
	if dl.containerID == "" {
		return
	}

	containerLogs, err := dl.dockerClient.GetContainerLogs(dl.containerID)
	if err != nil {
		dl.logger.WarnWith("Failed to get container logs", "err", err)
		return
	}

	dl.logger.WarnWith("Server container failed to start", "logs", containerLogs)
}

// resolvePort returns the requested port, or an ephemeral one when zero
func resolvePort(requestedPort int) (int, error) {
	if requestedPort != 0 {
		return requestedPort, nil
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, errors.Wrap(err, "Failed to allocate ephemeral port")
	}
	defer listener.Close() // nolint: errcheck

	return listener.Addr().(*net.TCPAddr).Port, nil
}

// encodeConfigLabel packs the launch configuration into a container label
func encodeConfigLabel(launchConfig *Config) (string, error) {
	packedConfig, err := msgpack.Marshal(launchConfig)
	if err != nil {
		return "", errors.Wrap(err, "Failed to pack configuration")
	}

	return base64.StdEncoding.EncodeToString(packedConfig), nil
}

// decodeConfigLabel recovers the launch configuration from a container label
func decodeConfigLabel(encodedConfig string) (*Config, error) {
	if encodedConfig == "" {
		return nil, errors.New("Container carries no configuration label")
	}

	packedConfig, err := base64.StdEncoding.DecodeString(encodedConfig)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to decode configuration label")
	}

	var rawConfig map[string]interface{}
	if err := msgpack.Unmarshal(packedConfig, &rawConfig); err != nil {
		return nil, errors.Wrap(err, "Failed to unpack configuration label")
	}

	recoveredConfig := Config{}
	if err := mapstructure.Decode(rawConfig, &recoveredConfig); err != nil {
		return nil, errors.Wrap(err, "Failed to decode configuration fields")
	}

	return &recoveredConfig, nil
}
