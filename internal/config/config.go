// Copyright 2018 The gVisor Authors.
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

// Package config loads the boot-time tunables that override the kernel's
// compiled-in defaults.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/go-pandos/pandos/pkg/kernel"
)

// File is the on-disk shape of a pandos boot configuration.
type File struct {
	// QuantumMicros overrides kernel.Quantum when non-zero.
	QuantumMicros uint64 `toml:"quantum_micros"`

	// IntervalMicros overrides kernel.Interval when non-zero.
	IntervalMicros uint64 `toml:"interval_micros"`

	// Terminals overrides boot's -terminals flag (the number of simulated
	// terminal lines) when non-zero.
	Terminals int `toml:"terminals"`
}

// Load parses a TOML config file at path. A missing quantum or interval
// leaves the corresponding kernel default in force.
func Load(path string) (File, error) {
	var f File
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return File{}, fmt.Errorf("config: %w", err)
	}
	return f, nil
}

// KernelConfig adapts a loaded File into a kernel.Config.
func (f File) KernelConfig() kernel.Config {
	return kernel.Config{
		Quantum:  f.QuantumMicros,
		Interval: f.IntervalMicros,
	}
}
