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
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/google/subcommands"
	"gvisor.dev/mkern/pkg/config"
	"gvisor.dev/mkern/pkg/hostarch"
	"gvisor.dev/mkern/pkg/kernel/machine"
	"gvisor.dev/mkern/pkg/kernel/proc"
	"gvisor.dev/mkern/pkg/kernel/vmm"
)

// VMDump implements subcommands.Command for the "vmdump" command.
type VMDump struct {
	pid       uint
	mapAddr   string
	mapLen    uint
	translate string
}

// Name implements subcommands.Command.Name.
func (*VMDump) Name() string {
	return "vmdump"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*VMDump) Synopsis() string {
	return "boot the page tables and print a process's directory"
}

// Usage implements subcommands.Command.Usage.
func (*VMDump) Usage() string {
	return `vmdump [flags] - boots the kernel page tables, optionally maps user memory
for a process, and prints the process's present directory entries and the
translation of the given addresses.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (v *VMDump) SetFlags(f *flag.FlagSet) {
	f.UintVar(&v.pid, "pid", 1, "process whose tables are printed.")
	f.StringVar(&v.mapAddr, "map-addr", "0x40000000", "start of the user memory to map.")
	f.UintVar(&v.mapLen, "map-len", 0, "bytes of user memory to map; zero maps nothing.")
	f.StringVar(&v.translate, "translate", "", "comma-separated virtual addresses to translate.")
}

// Execute implements subcommands.Command.Execute.
func (v *VMDump) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if err := v.run(conf, output); err != nil {
		Fatalf("vmdump: %v", err)
	}
	return subcommands.ExitSuccess
}

func parseAddr(s string) (hostarch.Addr, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return hostarch.Addr(v), nil
}

func (v *VMDump) run(conf *config.Config, w io.Writer) error {
	pid := proc.ID(v.pid)
	if err := conf.Limit().Check(pid); err != nil {
		return err
	}
	var translate []hostarch.Addr
	if v.translate != "" {
		for _, s := range strings.Split(v.translate, ",") {
			a, err := parseAddr(s)
			if err != nil {
				return err
			}
			translate = append(translate, a)
		}
	}

	m, err := machine.New(conf.PhysFrames, conf.Limit())
	if err != nil {
		return err
	}
	defer m.Close()

	if v.mapLen > 0 {
		addr, err := parseAddr(v.mapAddr)
		if err != nil {
			return err
		}
		if v.mapLen > 1<<32-1 {
			return fmt.Errorf("map-len %d out of range", v.mapLen)
		}
		if err := m.MapUser(pid, addr, uint32(v.mapLen)); err != nil {
			return err
		}
	}

	fmt.Fprintf(w, "pid %d: directory at %v\n", pid, m.MM.DirAddr(pid))
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "DIR\tVADDR\tENTRY\tFLAGS\n")
	kernelDirs := 0
	for dir := uint32(0); dir < hostarch.EntriesPerTable; dir++ {
		pde := m.MM.DirEntry(pid, dir)
		if !pde.Valid() {
			continue
		}
		if vmm.IsKernelDir(dir) && pde.Address() == m.MM.IdentityTableAddr(dir) {
			kernelDirs++
			continue
		}
		fmt.Fprintf(tw, "%d\t%v\t%v\t%v\n", dir, hostarch.Addr(dir<<hostarch.DirShift), pde.Address(), pde.Flags())
	}
	tw.Flush()
	fmt.Fprintf(w, "%d kernel directories share the identity map\n", kernelDirs)

	for _, va := range translate {
		pa, perm, err := m.MM.Translate(pid, va)
		if err != nil {
			fmt.Fprintf(w, "%v: %v\n", va, err)
			continue
		}
		fmt.Fprintf(w, "%v -> %v %v\n", va, pa, perm)
	}
	return nil
}
