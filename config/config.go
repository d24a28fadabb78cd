// Package config holds the machine and address-space layout parameters.
//
// The canonical layout constants (heap ceiling, mmap search base, user stack
// top, framebuffer window) are configuration, not literals scattered through
// the kernel, and Validate proves they cannot overlap before boot.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"kiwios/mem"
)

// Config describes one simulated machine.
type Config struct {
	// PhysPages is the size of the physical memory arena in 4K pages.
	PhysPages int `yaml:"phys_pages" env:"KIWIOS_PHYS_PAGES"`
	// TimerHz is the periodic timer frequency.
	TimerHz uint32 `yaml:"timer_hz" env:"KIWIOS_TIMER_HZ"`

	// DirectMapBase is the virtual base of the kernel's direct mapping of
	// physical memory. Everything at or above it is kernel territory.
	DirectMapBase uint64 `yaml:"direct_map_base"`
	// MaxUserAddr is the exclusive upper bound of the user address range.
	MaxUserAddr uint64 `yaml:"max_user_addr"`
	// UserStackTop is the virtual top of every user stack.
	UserStackTop uint64 `yaml:"user_stack_top"`
	// UserStackPages is the user stack size in pages.
	UserStackPages int `yaml:"user_stack_pages"`
	// KernelStackPages is the per-process kernel stack size in pages.
	KernelStackPages int `yaml:"kernel_stack_pages"`
	// HeapMax is the exclusive ceiling any process heap may grow to.
	HeapMax uint64 `yaml:"heap_max"`
	// HeapFallback is the heap floor used when an image has no loadable
	// segments to place the heap above.
	HeapFallback uint64 `yaml:"heap_fallback"`
	// MMapBase is the lowest address the anonymous-mapping search considers.
	MMapBase uint64 `yaml:"mmap_base"`
	// FBMapBase is the fixed virtual base for framebuffer mappings.
	FBMapBase uint64 `yaml:"fb_map_base"`

	// MaxStringLen caps user string scans in the syscall layer.
	MaxStringLen int `yaml:"max_string_len"`

	// FBWidth and FBHeight size the simulated framebuffer device.
	FBWidth  int `yaml:"fb_width" env:"KIWIOS_FB_WIDTH"`
	FBHeight int `yaml:"fb_height" env:"KIWIOS_FB_HEIGHT"`
}

// Default returns the stock layout.
func Default() Config {
	return Config{
		PhysPages:        4096,
		TimerHz:          1000,
		DirectMapBase:    0xFFFF_8000_0000_0000,
		MaxUserAddr:      0x0000_8000_0000_0000,
		UserStackTop:     0x0000_7FFF_FFFF_F000,
		UserStackPages:   4,
		KernelStackPages: 2,
		HeapMax:          0x0000_5000_0000_0000,
		HeapFallback:     0x401000,
		MMapBase:         0x0000_0400_0000_0000,
		FBMapBase:        0x0000_6000_0000_0000,
		MaxStringLen:     4096,
		FBWidth:          640,
		FBHeight:         480,
	}
}

// Load builds a Config from defaults, an optional YAML file, and environment
// overrides, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// UserStackBase returns the lowest mapped address of a user stack.
func (c Config) UserStackBase() uint64 {
	return c.UserStackTop - uint64(c.UserStackPages)*mem.PageSize
}

// Validate checks the layout regions are well formed and strictly ordered:
// heap fallback floor < heap ceiling, mmap search window below the
// framebuffer window, framebuffer window below the user stack, user stack
// below the user/kernel split, split below the direct mapping.
func (c Config) Validate() error {
	if c.PhysPages < 16 {
		return fmt.Errorf("config: phys_pages %d too small", c.PhysPages)
	}
	if c.TimerHz == 0 {
		return fmt.Errorf("config: timer_hz must be nonzero")
	}
	if c.UserStackPages <= 0 || c.KernelStackPages <= 0 {
		return fmt.Errorf("config: stack sizes must be positive")
	}
	if c.MaxStringLen <= 0 {
		return fmt.Errorf("config: max_string_len must be positive")
	}
	if c.FBWidth <= 0 || c.FBHeight <= 0 {
		return fmt.Errorf("config: framebuffer dimensions must be positive")
	}
	for name, addr := range map[string]uint64{
		"user_stack_top": c.UserStackTop,
		"heap_max":       c.HeapMax,
		"heap_fallback":  c.HeapFallback,
		"mmap_base":      c.MMapBase,
		"fb_map_base":    c.FBMapBase,
		"max_user_addr":  c.MaxUserAddr,
	} {
		if addr == 0 || addr%mem.PageSize != 0 {
			return fmt.Errorf("config: %s %#x is not page aligned", name, addr)
		}
	}
	if c.HeapFallback >= c.HeapMax {
		return fmt.Errorf("config: heap_fallback %#x not below heap_max %#x", c.HeapFallback, c.HeapMax)
	}
	if c.MMapBase >= c.FBMapBase {
		return fmt.Errorf("config: mmap_base %#x not below fb_map_base %#x", c.MMapBase, c.FBMapBase)
	}
	if c.FBMapBase >= c.UserStackBase() {
		return fmt.Errorf("config: fb_map_base %#x overlaps the user stack at %#x", c.FBMapBase, c.UserStackBase())
	}
	if c.UserStackTop > c.MaxUserAddr {
		return fmt.Errorf("config: user_stack_top %#x above max_user_addr %#x", c.UserStackTop, c.MaxUserAddr)
	}
	if c.MaxUserAddr > c.DirectMapBase {
		return fmt.Errorf("config: max_user_addr %#x overlaps the direct mapping at %#x", c.MaxUserAddr, c.DirectMapBase)
	}
	return nil
}
