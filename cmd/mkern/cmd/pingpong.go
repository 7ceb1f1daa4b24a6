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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/google/subcommands"
	"gvisor.dev/mkern/pkg/config"
	"gvisor.dev/mkern/pkg/kernel"
	"gvisor.dev/mkern/pkg/kernel/syscall"
	"gvisor.dev/mkern/pkg/log"
	"gvisor.dev/mkern/pkg/metric"
)

// PingPong implements subcommands.Command for the "pingpong" command.
type PingPong struct {
	rounds  int
	quota   uint
	ding    bool
	metrics bool
}

// Name implements subcommands.Command.Name.
func (*PingPong) Name() string {
	return "pingpong"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*PingPong) Synopsis() string {
	return "boot a kernel and run the ping and pong processes"
}

// Usage implements subcommands.Command.Usage.
func (*PingPong) Usage() string {
	return `pingpong [flags] - boots a kernel whose init spawns ping and pong, which
exchange messages over synchronous IPC. Console output goes to stdout.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (p *PingPong) SetFlags(f *flag.FlagSet) {
	f.IntVar(&p.rounds, "rounds", 10, "number of messages ping sends.")
	f.UintVar(&p.quota, "quota", 16, "page quota of each spawned process, at least 3.")
	f.BoolVar(&p.ding, "ding", false, "also spawn ding, which traces producer and consumer activity.")
	f.BoolVar(&p.metrics, "metrics", false, "print metrics in Prometheus text format after the run.")
}

// Execute implements subcommands.Command.Execute.
func (p *PingPong) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if err := p.run(conf, output); err != nil {
		Fatalf("pingpong: %v", err)
	}
	return subcommands.ExitSuccess
}

func (p *PingPong) run(conf *config.Config, w io.Writer) error {
	if p.rounds < 0 {
		return fmt.Errorf("rounds must not be negative")
	}
	if p.quota > 1<<32-1 {
		return fmt.Errorf("quota %d out of range", p.quota)
	}
	if p.quota < kernel.MinQuota {
		return fmt.Errorf("quota %d is below the %d pages ping and pong need", p.quota, kernel.MinQuota)
	}
	k, err := kernel.New(kernel.InitKernelArgs{
		Limit:       conf.Limit(),
		MaxChildren: conf.MaxChildren,
		PhysFrames:  conf.PhysFrames,
		Console:     w,
		Programs:    kernel.Programs(p.rounds),
		WaitLogRate: conf.LogRate,
	})
	if err != nil {
		return err
	}
	defer k.Close()

	images := []syscall.Image{syscall.ImagePing, syscall.ImagePong}
	if p.ding {
		images = append(images, syscall.ImageDing)
	}
	k.Start(kernel.SpawnAll(uint32(p.quota), images...))
	if err := k.Wait(); err != nil {
		return err
	}
	log.Infof("pingpong: %d rounds done", p.rounds)

	if p.metrics {
		return metric.Default.WriteText(w)
	}
	return nil
}
