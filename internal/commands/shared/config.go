// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package shared

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/tombee/otelhook/internal/config"
)

// ResolveConfigPath returns the --config value, or the default config file
// when it exists. An empty result means defaults and environment only.
func ResolveConfigPath() (string, error) {
	if path := GetConfigPath(); path != "" {
		return path, nil
	}

	path, err := config.ConfigPath()
	if err != nil {
		return "", fmt.Errorf("failed to determine config path: %w", err)
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	return path, nil
}

// LoadConfig loads the effective configuration for a command. It returns
// the file that was read, which is empty when none was.
func LoadConfig() (*config.Config, string, error) {
	path, err := ResolveConfigPath()
	if err != nil {
		return nil, "", NewConfigError("failed to locate config", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, NewConfigError("failed to load config", err)
	}
	return cfg, path, nil
}
