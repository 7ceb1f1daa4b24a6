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

// Package metric provides primitives for collecting metrics.
package metric

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"gvisor.dev/mkern/pkg/sync"
)

var (
	// ErrNameInUse indicates that another metric is already defined for
	// the given name.
	ErrNameInUse = errors.New("metric name already in use")

	// ErrInvalidName indicates that a metric name does not start with '/'.
	ErrInvalidName = errors.New("metric name must start with '/'")

	// ErrFieldHasNoAllowedValues indicates that the field needs to define some
	// allowed values to be a valid and useful field.
	ErrFieldHasNoAllowedValues = errors.New("metric field does not define any allowed values")
)

// Field contains the field name and allowed values for a metric with a
// single dimension.
type Field struct {
	name          string
	allowedValues []string
}

// NewField defines a new Field that can be used to break down a metric.
func NewField(name string, allowedValues ...string) Field {
	return Field{name: name, allowedValues: allowedValues}
}

// Uint64Metric encapsulates a uint64 that represents some kind of cumulative
// count. It may optionally be broken down by one Field.
type Uint64Metric struct {
	name        string
	description string

	// field is the optional breakdown. values has one slot per allowed
	// value, or a single slot when the metric has no field.
	field  *Field
	values []atomic.Uint64
}

// Name returns the metric name.
func (m *Uint64Metric) Name() string {
	return m.name
}

// key maps the field values passed by callers to a slot in m.values. This
// must be called with the correct number of field values or it will panic.
func (m *Uint64Metric) key(fieldValues []string) int {
	if m.field == nil {
		if len(fieldValues) != 0 {
			panic(fmt.Sprintf("metric %s has no fields", m.name))
		}
		return 0
	}
	if len(fieldValues) != 1 {
		panic(fmt.Sprintf("metric %s expects one field value", m.name))
	}
	for i, v := range m.field.allowedValues {
		if v == fieldValues[0] {
			return i
		}
	}
	panic(fmt.Sprintf("disallowed value %q for field %s of metric %s", fieldValues[0], m.field.name, m.name))
}

// Value returns the current value of the metric for the given field value.
func (m *Uint64Metric) Value(fieldValues ...string) uint64 {
	return m.values[m.key(fieldValues)].Load()
}

// Increment increments the metric by 1.
func (m *Uint64Metric) Increment(fieldValues ...string) {
	m.values[m.key(fieldValues)].Add(1)
}

// IncrementBy increments the metric by v.
func (m *Uint64Metric) IncrementBy(v uint64, fieldValues ...string) {
	m.values[m.key(fieldValues)].Add(v)
}

// Registry holds a set of uniquely named metrics.
type Registry struct {
	mu      sync.Mutex
	metrics map[string]*Uint64Metric
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{metrics: make(map[string]*Uint64Metric)}
}

// Default is the registry used by the package-level constructors.
var Default = NewRegistry()

// NewUint64Metric creates and registers a new cumulative metric with the
// given name.
func (r *Registry) NewUint64Metric(name, description string, fields ...Field) (*Uint64Metric, error) {
	if !strings.HasPrefix(name, "/") {
		return nil, ErrInvalidName
	}
	if len(fields) > 1 {
		return nil, fmt.Errorf("metric %s: at most one field is supported, got %d", name, len(fields))
	}
	m := &Uint64Metric{name: name, description: description}
	if len(fields) == 1 {
		if len(fields[0].allowedValues) == 0 {
			return nil, ErrFieldHasNoAllowedValues
		}
		f := fields[0]
		m.field = &f
		m.values = make([]atomic.Uint64, len(f.allowedValues))
	} else {
		m.values = make([]atomic.Uint64, 1)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.metrics[name]; ok {
		return nil, ErrNameInUse
	}
	r.metrics[name] = m
	return m, nil
}

// Snapshot returns the current value of every metric, keyed by name and, for
// metrics with a field, by "name{field=value}".
func (r *Registry) Snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	for _, m := range r.sorted() {
		if m.field == nil {
			out[m.name] = m.values[0].Load()
			continue
		}
		for i, v := range m.field.allowedValues {
			out[fmt.Sprintf("%s{%s=%s}", m.name, m.field.name, v)] = m.values[i].Load()
		}
	}
	return out
}

// sorted returns the registered metrics ordered by name.
func (r *Registry) sorted() []*Uint64Metric {
	r.mu.Lock()
	ms := make([]*Uint64Metric, 0, len(r.metrics))
	for _, m := range r.metrics {
		ms = append(ms, m)
	}
	r.mu.Unlock()
	sort.Slice(ms, func(i, j int) bool { return ms[i].name < ms[j].name })
	return ms
}

// MustCreateNewUint64Metric calls Default.NewUint64Metric and panics if it
// returns an error.
func MustCreateNewUint64Metric(name, description string, fields ...Field) *Uint64Metric {
	m, err := Default.NewUint64Metric(name, description, fields...)
	if err != nil {
		panic(fmt.Sprintf("Unable to create metric %q: %s", name, err))
	}
	return m
}
