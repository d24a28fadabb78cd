package app

import (
	"testing"

	"kiwios/config"
	"kiwios/kernel"
)

func TestBootAndRun(t *testing.T) {
	cfg := config.Default()
	sys, step, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// The boot-report thread already ran and was collected.
	if sys.Kernel.Current().PID != 0 {
		t.Fatal("expected idle current after boot")
	}
	if sys.Kernel.FindByPID(1) != nil {
		t.Fatal("expected the boot thread collected")
	}

	users := 0
	for _, p := range sys.Kernel.Processes() {
		if p.Usermode {
			users++
		}
	}
	if users != 3 {
		t.Fatalf("loaded %d user processes; want 3", users)
	}

	for i := 0; i < 1000; i++ {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	// The greeter and the mapper exit; the painter runs forever.
	var names []string
	for _, p := range sys.Kernel.Processes() {
		if p.Usermode {
			names = append(names, p.Name)
		}
	}
	if len(names) != 1 || names[0] != "painter" {
		t.Fatalf("surviving users = %v; want only the painter", names)
	}

	painter := sys.Kernel.FindByPID(100)
	if painter == nil || painter.Name != "painter" {
		t.Fatal("expected the painter at the first user pid")
	}
	if painter.FBSize == 0 {
		t.Fatal("expected the painter's framebuffer window mapped")
	}

	// The painter wrote through its window into the device pages.
	info, ok := sys.Devices.Display().Info()
	if !ok {
		t.Fatal("expected a framebuffer")
	}
	pixels := sys.Kernel.Phys().Bytes(info.PhysBase, int(info.Pitch))
	nonzero := false
	for _, b := range pixels {
		if b != 0 {
			nonzero = true
			break
		}
	}
	if !nonzero {
		t.Fatal("expected painted pixels in the first row")
	}
}

func TestExactlyOneRunningProcess(t *testing.T) {
	cfg := config.Default()
	sys, step, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	check := func(when string) {
		t.Helper()
		var running []string
		for _, p := range sys.Kernel.Processes() {
			if p.State == kernel.Running {
				running = append(running, p.Name)
			}
		}
		if len(running) != 1 {
			t.Fatalf("running processes %s = %v; want exactly one", when, running)
		}
	}

	check("after boot")
	for i := 0; i < 200; i++ {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		check("after a step")
	}
}

func TestHeapAndMappingsTornDownOnExit(t *testing.T) {
	cfg := config.Default()
	sys, step, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 1000; i++ {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	// Everything the exited processes held went back to the allocator:
	// only idle, the painter and the device reservation remain.
	for _, p := range sys.Kernel.Processes() {
		if p.State == kernel.Terminated {
			t.Fatalf("process %s still terminated in the registry", p.Name)
		}
	}
}
