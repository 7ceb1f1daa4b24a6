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

package metric

import (
	"io"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// promNamespace prefixes every exported metric name.
const promNamespace = "mkern"

// promName converts a metric path such as "/ipc/bytes_copied" into a
// Prometheus metric name such as "mkern_ipc_bytes_copied".
func promName(name string) string {
	return promNamespace + strings.ReplaceAll(name, "/", "_")
}

func (m *Uint64Metric) family() *dto.MetricFamily {
	counter := func(v uint64, labels ...*dto.LabelPair) *dto.Metric {
		f := float64(v)
		return &dto.Metric{Label: labels, Counter: &dto.Counter{Value: &f}}
	}
	name := promName(m.name)
	help := m.description
	mf := &dto.MetricFamily{
		Name: &name,
		Help: &help,
		Type: dto.MetricType_COUNTER.Enum(),
	}
	if m.field == nil {
		mf.Metric = append(mf.Metric, counter(m.values[0].Load()))
		return mf
	}
	for i := range m.field.allowedValues {
		labelName, labelValue := m.field.name, m.field.allowedValues[i]
		mf.Metric = append(mf.Metric, counter(m.values[i].Load(), &dto.LabelPair{Name: &labelName, Value: &labelValue}))
	}
	return mf
}

// WriteText writes every metric in r to w in the Prometheus text exposition
// format.
func (r *Registry) WriteText(w io.Writer) error {
	for _, m := range r.sorted() {
		if _, err := expfmt.MetricFamilyToText(w, m.family()); err != nil {
			return err
		}
	}
	return nil
}
