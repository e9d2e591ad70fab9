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

	"github.com/stretchr/testify/mock"
)

//
// Docker client mock
//

type MockDockerClient struct {
	mock.Mock
}

func NewMockDockerClient() *MockDockerClient {
	return &MockDockerClient{}
}

// RunContainer runs a detached container from an image, returning its ID
func (mdc *MockDockerClient) RunContainer(imageName string, runOptions *RunOptions) (string, error) {
	args := mdc.Called(imageName, runOptions)
	return args.String(0), args.Error(1)
}

// RemoveContainer force removes a container by ID or name
func (mdc *MockDockerClient) RemoveContainer(containerID string) error {
	args := mdc.Called(containerID)
	return args.Error(0)
}

// GetContainers returns containers matching the given criteria
func (mdc *MockDockerClient) GetContainers(options *GetContainerOptions) ([]Container, error) {
	args := mdc.Called(options)
	return args.Get(0).([]Container), args.Error(1)
}

// GetContainerLogs returns the raw logs of a container
func (mdc *MockDockerClient) GetContainerLogs(containerID string) (string, error) {
	args := mdc.Called(containerID)
	return args.String(0), args.Error(1)
}

// AwaitContainerHealth blocks until the container reports healthy or the timeout passes
func (mdc *MockDockerClient) AwaitContainerHealth(containerID string, timeout *time.Duration) error {
	args := mdc.Called(containerID, timeout)
	return args.Error(0)
}
