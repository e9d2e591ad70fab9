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
	"time"
)

// RunOptions are options for running a container
type RunOptions struct {
	Ports         map[int]int
	ContainerName string
	Network       string
	Env           map[string]string
	Labels        map[string]string
	Volumes       map[string]string
	Command       string
	Remove        bool

	// ImageMayNotExist tolerates the implicit pull output docker emits when
	// the image was not present locally
	ImageMayNotExist bool
}

// GetContainerOptions are options for container search
type GetContainerOptions struct {
	Name    string
	Labels  map[string]string
	Stopped bool
}

// Container holds the subset of docker inspect output the launcher consumes
type Container struct {
	ID     string `json:"Id"`
	Name   string
	State  *ContainerState
	Config *Config
}

// ContainerState stores a container's running state
type ContainerState struct {
	Status   string
	Running  bool
	ExitCode int
	Error    string
}

// Config holds the container configuration the launcher reads back - most
// importantly the labels it planted at run time
type Config struct {
	Image  string
	Labels map[string]string
	Env    []string
}

// Client is the docker client interface the launcher drives
type Client interface {

	// RunContainer runs a detached container from an image, returning its ID
	RunContainer(imageName string, runOptions *RunOptions) (string, error)

	// RemoveContainer force removes a container by ID or name
	RemoveContainer(containerID string) error

	// GetContainers returns containers matching the given criteria
	GetContainers(options *GetContainerOptions) ([]Container, error)

	// GetContainerLogs returns the raw logs of a container
	GetContainerLogs(containerID string) (string, error)

	// AwaitContainerHealth blocks until the container reports healthy or the
	// timeout passes
	AwaitContainerHealth(containerID string, timeout *time.Duration) error
}
