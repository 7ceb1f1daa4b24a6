// Copyright 2026 The gVisor Authors.
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

// Package config provides basic infrastructure to set configuration settings
// for mkern. Settings come from defaults, then an optional TOML file, then
// command-line flags, each layer overriding the previous one.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mohae/deepcopy"
	"gvisor.dev/mkern/pkg/kernel/proc"
	"gvisor.dev/mkern/pkg/kernel/vmm"
)

// Config holds configuration that is not part of the kernel state.
//
// Follow these steps to add a new flag:
//  1. Create a new field in Config.
//  2. Add a field tag with the flag name and a toml tag with the file key.
//  3. Register the flag in RegisterFlags.
//  4. Add any validation in Validate.
type Config struct {
	// NumIDs is the number of process ids. The value NumIDs itself is the
	// "no process" sentinel.
	NumIDs uint32 `flag:"num-ids" toml:"num_ids"`

	// MaxChildren is the number of children each process may spawn.
	MaxChildren uint32 `flag:"max-children" toml:"max_children"`

	// PhysFrames is the number of 4KiB frames of simulated physical memory.
	PhysFrames uint32 `flag:"phys-frames" toml:"phys_frames"`

	// LogFilename is the filename to log to, if not empty. It may contain
	// %PID% and %TIMESTAMP%.
	LogFilename string `flag:"log" toml:"log"`

	// LogFormat is the log format: "text" or "json".
	LogFormat string `flag:"log-format" toml:"log_format"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug" toml:"debug"`

	// AlsoLogToStderr allows logs to also be sent to stderr when LogFilename
	// is set.
	AlsoLogToStderr bool `flag:"alsologtostderr" toml:"alsologtostderr"`

	// LogRate is the minimum interval between repeated "still waiting"
	// messages from blocked IPC calls.
	LogRate time.Duration `flag:"log-rate" toml:"log_rate"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		NumIDs:      uint32(proc.DefaultLimit),
		MaxChildren: 8,
		PhysFrames:  vmm.IdentityFrames + uint32(proc.DefaultLimit) + 4096,
		LogFormat:   "text",
		LogRate:     time.Second,
	}
}

// Limit returns NumIDs as a process limit.
func (c *Config) Limit() proc.Limit {
	return proc.Limit(c.NumIDs)
}

// Validate checks that the configuration can boot a kernel.
func (c *Config) Validate() error {
	if c.NumIDs == 0 {
		return fmt.Errorf("num-ids must be positive")
	}
	if c.MaxChildren == 0 {
		return fmt.Errorf("max-children must be positive")
	}
	if c.MaxChildren+1 > c.NumIDs {
		return fmt.Errorf("max-children %d leaves no ids for the children of pid 0 (num-ids %d)", c.MaxChildren, c.NumIDs)
	}
	if need := uint64(vmm.IdentityFrames) + uint64(c.NumIDs); uint64(c.PhysFrames) <= need {
		return fmt.Errorf("phys-frames %d must exceed the %d frames reserved for page tables", c.PhysFrames, need)
	}
	if uint64(c.PhysFrames)<<12 > 1<<32 {
		return fmt.Errorf("phys-frames %d exceeds the 4GiB physical address space", c.PhysFrames)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format %q", c.LogFormat)
	}
	if c.LogRate < 0 {
		return fmt.Errorf("log-rate must not be negative")
	}
	return nil
}

// LoadFile reads a TOML configuration file on top of the defaults. Unknown
// keys are an error.
func LoadFile(path string) (*Config, error) {
	c := Default()
	if err := c.merge(path); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func (c *Config) merge(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("error parsing config %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("config %q: unknown keys %v", path, undecoded)
	}
	return nil
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	return deepcopy.Copy(c).(*Config)
}
