// Package config loads the bridge's TOML configuration: one [[port]]
// table per physical USB-serial bus plus a [node] table of ArtNet
// identity and network settings. Grounded on the teacher's config
// package (BurntSushi/toml, UnmarshalTOML-based address parsing,
// Load-then-validate shape).
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/openlighting/ordmbridge/artnet"
)

// Config is the top-level TOML document.
type Config struct {
	Node  NodeConfig   `toml:"node"`
	Ports []PortConfig `toml:"port"`
}

// NodeConfig is the [node] table: ArtNet identity and network settings.
// Listen and Broadcast are decoded but main does not read them; it takes
// both addresses from its -artnet-listen and -artnet-broadcast flags.
type NodeConfig struct {
	ShortName string   `toml:"short_name"`
	LongName  string   `toml:"long_name"`
	Listen    string   `toml:"listen"`
	Broadcast []string `toml:"broadcast"` // addresses, or ["auto"] to detect
}

// PortConfig is one [[port]] table: a physical bus bound to an ArtNet
// universe.
type PortConfig struct {
	// Device is the serial path (e.g. "/dev/ttyUSB0"), used verbatim by
	// the transport and as the seed string for the port's controller
	// UID (rdm.ControllerUID).
	Device string `toml:"device"`

	Universe UniverseAddr `toml:"universe"`

	RDMEnabled           bool `toml:"rdm_enabled"`
	IncrementalDiscovery bool `toml:"incremental_discovery"`
}

// UniverseAddr accepts either a plain universe number ("1") or a
// net.subnet.universe triple ("0.0.1"), matching the teacher's
// UniverseAddr/ParseUniverseAddr.
type UniverseAddr struct {
	Universe artnet.Universe
}

func (u *UniverseAddr) UnmarshalTOML(data interface{}) error {
	switch v := data.(type) {
	case string:
		universe, err := ParseUniverseAddr(v)
		if err != nil {
			return err
		}
		u.Universe = universe
		return nil
	case int64:
		u.Universe = artnet.Universe(v)
		return nil
	case float64:
		u.Universe = artnet.Universe(int64(v))
		return nil
	default:
		return fmt.Errorf("unsupported universe address type: %T", data)
	}
}

// ParseUniverseAddr parses "net.subnet.universe" or a plain universe
// number.
func ParseUniverseAddr(s string) (artnet.Universe, error) {
	s = strings.TrimSpace(s)

	if strings.Contains(s, ".") {
		parts := strings.Split(s, ".")
		if len(parts) != 3 {
			return 0, fmt.Errorf("invalid universe address %q (expected net.subnet.universe)", s)
		}
		net, err := strconv.Atoi(parts[0])
		if err != nil {
			return 0, fmt.Errorf("invalid net: %w", err)
		}
		subnet, err := strconv.Atoi(parts[1])
		if err != nil {
			return 0, fmt.Errorf("invalid subnet: %w", err)
		}
		universe, err := strconv.Atoi(parts[2])
		if err != nil {
			return 0, fmt.Errorf("invalid universe: %w", err)
		}
		return artnet.NewUniverse(uint8(net), uint8(subnet), uint8(universe)), nil
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid universe address %q", s)
	}
	if n < 0 || n > 0x7FFF {
		return 0, fmt.Errorf("invalid universe address %q (out of range 0-32767)", s)
	}
	return artnet.Universe(n), nil
}

// Load reads and validates a TOML config file.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-port invariants that can't be caught per-field:
// every port needs a non-empty device descriptor, and device
// descriptors must be unique (two ports sharing a serial path would
// corrupt each other's transactions). Universes, by contrast, are NOT
// required to be unique: spec.md's "unique RDM request" open question
// (decided in DESIGN.md) allows several physical ports to share one
// ArtNet universe, each receiving a copy of every request.
func (c *Config) Validate() error {
	if len(c.Ports) == 0 {
		return fmt.Errorf("config: at least one [[port]] is required")
	}

	seenDevice := make(map[string]int, len(c.Ports))

	for i, p := range c.Ports {
		if p.Device == "" {
			return fmt.Errorf("port %d: device is required", i)
		}
		if prev, ok := seenDevice[p.Device]; ok {
			return fmt.Errorf("port %d: device %q duplicates port %d", i, p.Device, prev)
		}
		seenDevice[p.Device] = i
	}

	return nil
}

// PortToUniverse builds the (port index -> universe number) map the
// Universe Router is constructed from. Keyed by port index, not
// universe, so that multiple ports sharing one universe (the fan-out
// Validate permits) each keep their own entry instead of overwriting
// each other's.
func (c *Config) PortToUniverse() map[int]int {
	m := make(map[int]int, len(c.Ports))
	for i, p := range c.Ports {
		m[i] = int(p.Universe.Universe)
	}
	return m
}
