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

package config

import (
	"flag"
	"fmt"
	"reflect"
	"strconv"
)

// RegisterFlags registers flags used to populate Config. Flag defaults are
// the values returned by Default.
func RegisterFlags(flagSet *flag.FlagSet) {
	d := Default()

	flagSet.String("config", "", "TOML file with settings; flags given explicitly override it.")

	// Kernel geometry.
	flagSet.Uint("num-ids", uint(d.NumIDs), "number of process ids.")
	flagSet.Uint("max-children", uint(d.MaxChildren), "maximum number of children per process.")
	flagSet.Uint("phys-frames", uint(d.PhysFrames), "number of 4KiB frames of simulated physical memory.")

	// Logging.
	flagSet.String("log", d.LogFilename, "file path where logs are written, default is stderr. %PID% and %TIMESTAMP% are expanded.")
	flagSet.String("log-format", d.LogFormat, "log format: text (default) or json.")
	flagSet.Bool("debug", d.Debug, "enable debug logging.")
	flagSet.Bool("alsologtostderr", d.AlsoLogToStderr, "send log messages to stderr in addition to --log.")
	flagSet.Duration("log-rate", d.LogRate, "minimum interval between repeated messages from blocked IPC calls.")
}

// NewFromFlags creates a new Config from the file named by --config, if
// any, and the flags explicitly set on flagSet.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := Default()
	if fl := flagSet.Lookup("config"); fl != nil && fl.Value.String() != "" {
		if err := conf.merge(fl.Value.String()); err != nil {
			return nil, err
		}
	}

	var err error
	flagSet.Visit(func(fl *flag.Flag) {
		if err == nil && fl.Name != "config" {
			err = conf.set(fl)
		}
	})
	if err != nil {
		return nil, err
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// set copies the value of fl into the field tagged with its name.
func (c *Config) set(fl *flag.Flag) error {
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		name, ok := st.Field(i).Tag.Lookup("flag")
		if !ok || name != fl.Name {
			continue
		}
		getter, ok := fl.Value.(flag.Getter)
		if !ok {
			return fmt.Errorf("flag %q has no value getter", fl.Name)
		}
		x := reflect.ValueOf(getter.Get())
		field := obj.Field(i)
		if field.Kind() == reflect.Uint32 && x.Uint() > 1<<32-1 {
			return fmt.Errorf("flag %q: %d out of range", fl.Name, x.Uint())
		}
		field.Set(x.Convert(field.Type()))
		return nil
	}
	// Flags without a field belong to the command, not the Config.
	return nil
}

// ToFlags returns a slice of flags that correspond to the given Config.
func (c *Config) ToFlags() []string {
	var rv []string

	// Construct a temporary set for default plumbing.
	flagSet := flag.NewFlagSet("tmp", flag.ContinueOnError)
	RegisterFlags(flagSet)

	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		name, ok := st.Field(i).Tag.Lookup("flag")
		if !ok {
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		val := getVal(obj.Field(i))
		if val == fl.DefValue {
			continue
		}
		rv = append(rv, fmt.Sprintf("--%s=%s", name, val))
	}
	return rv
}

func getVal(field reflect.Value) string {
	if str, ok := field.Interface().(fmt.Stringer); ok {
		return str.String()
	}
	switch field.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(field.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(field.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(field.Uint(), 10)
	case reflect.String:
		return field.String()
	default:
		panic("unknown type " + field.Kind().String())
	}
}
