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

// Package metrics exports kernel gauges through OpenCensus.
package metrics

import (
	"context"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

var (
	// ProcCount is the number of live processes.
	ProcCount = stats.Int64("pandos/proc_count", "live processes", stats.UnitDimensionless)

	// SoftBlockCount is the number of processes soft-blocked on a device
	// or the pseudo-clock.
	SoftBlockCount = stats.Int64("pandos/soft_block_count", "soft-blocked processes", stats.UnitDimensionless)

	// ReadyDepth is the number of processes on the ready queue.
	ReadyDepth = stats.Int64("pandos/ready_depth", "ready queue depth", stats.UnitDimensionless)
)

// Views are the last-value gauge views for each exported measure.
var Views = []*view.View{
	{Name: "pandos/proc_count", Measure: ProcCount, Aggregation: view.LastValue()},
	{Name: "pandos/soft_block_count", Measure: SoftBlockCount, Aggregation: view.LastValue()},
	{Name: "pandos/ready_depth", Measure: ReadyDepth, Aggregation: view.LastValue()},
}

// Register installs the package's views with the default OpenCensus
// exporter pipeline. Call once at boot.
func Register() error {
	return view.Register(Views...)
}

// Snapshot records the three kernel gauges in one batch.
func Snapshot(ctx context.Context, procCount, softBlockCount, readyDepth int) {
	stats.Record(ctx, ProcCount.M(int64(procCount)), SoftBlockCount.M(int64(softBlockCount)), ReadyDepth.M(int64(readyDepth)))
}

// WithComponent tags ctx so every measurement recorded through it is
// attributed to the kernel component.
func WithComponent(ctx context.Context) context.Context {
	ctx, _ = tag.New(ctx, tag.Insert(tag.MustNewKey("component"), "kernel"))
	return ctx
}
