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

// Config holds everything a session needs to reach the remote process a
// launcher started
type Config struct {
	Host             string `msgpack:"host" mapstructure:"host"`
	GRPCPort         int    `msgpack:"grpc_port" mapstructure:"grpc_port"`
	HTMLPort         int    `msgpack:"html_port" mapstructure:"html_port"`
	WSPort           int    `msgpack:"ws_port" mapstructure:"ws_port"`
	SecretKey        string `msgpack:"secret_key" mapstructure:"secret_key"`
	InstallPath      string `msgpack:"install_path" mapstructure:"install_path"`
	SessionDirectory string `msgpack:"session_directory" mapstructure:"session_directory"`
}

// Launcher owns a remote visualization process and hands out connection
// parameters. Multiple concurrent sessions may share one launcher; the remote
// process is only fully stopped when the last session unregisters
type Launcher interface {

	// Config returns the connection parameters of the launched process
	Config() *Config

	// Register records a session as using the launched process
	Register(sessionID string)

	// Unregister removes a session; when it was the last one, the remote
	// process and auxiliary services are stopped
	Unregister(sessionID string) error

	// Stop unconditionally stops the remote process
	Stop() error
}
