// Package app assembles a bootable machine: kernel, devices, syscall
// dispatcher and a demo workload, exposed as a per-frame step function the
// host runners drive.
package app

import (
	"fmt"

	"kiwios/config"
	"kiwios/hal"
	"kiwios/kernel"
	"kiwios/mem"
	"kiwios/sys"
	"kiwios/timer"
)

// System is one booted machine.
type System struct {
	Kernel     *kernel.Kernel
	Devices    hal.Devices
	Dispatcher *sys.Dispatcher

	machine *machine
}

// New boots a machine from cfg and returns it along with its step function.
func New(cfg config.Config) (*System, func() error, error) {
	phys := mem.NewPhysical(cfg.PhysPages, cfg.DirectMapBase)
	if phys == nil {
		return nil, nil, fmt.Errorf("app: bad physical memory size %d", cfg.PhysPages)
	}

	kspace, err := mem.NewSpace(phys)
	if err != nil {
		return nil, nil, fmt.Errorf("app: kernel space: %w", err)
	}

	dev := hal.New(phys, cfg.FBWidth, cfg.FBHeight)
	tm := timer.New(cfg.TimerHz)

	k := kernel.New(cfg, phys, kspace, tm, dev.Logger())
	k.Boot()
	k.InstallScheduler()

	d := sys.New(k, dev)
	m := newMachine(k, d, tm)

	s := &System{Kernel: k, Devices: dev, Dispatcher: d, machine: m}
	if err := s.startDemo(); err != nil {
		return nil, nil, err
	}
	return s, m.Step, nil
}
