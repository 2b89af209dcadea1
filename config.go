package riftnet

import (
	"os"

	"github.com/BurntSushi/toml"

	"github.com/bybrooklyn/wavry-sub002/delta"
	"github.com/bybrooklyn/wavry-sub002/rifterr"
)

// TransportConfig configures the UDP endpoint and traversal (§6).
type TransportConfig struct {
	ListenAddr   string `toml:"listen_addr"`
	MTU          int    `toml:"mtu"`
	STUNServer   string `toml:"stun_server"`
	RelayAllowed bool   `toml:"relay_allowed"`
}

// SessionConfig configures session-level timeouts and buffering (§6).
type SessionConfig struct {
	IdleTimeoutS       int   `toml:"idle_timeout_s"`
	HandshakeBackoffMs []int `toml:"handshake_backoff_ms"`
	DrainMs            int   `toml:"drain_ms"`
	ReorderWindow      int   `toml:"reorder_window"`
	TargetPlayDelayMs  int   `toml:"target_play_delay_ms"`
}

// FECConfig configures the parity schedule and group sizing (§6).
type FECConfig struct {
	Schedule []float64 `toml:"schedule"`
	GroupMin int       `toml:"group_min"`
	GroupMax int       `toml:"group_max"`
}

// DELTAConfig mirrors delta.Config for TOML decoding; ToDeltaConfig
// converts it.
type DELTAConfig struct {
	TargetDelayUS float64 `toml:"target_delay_us"`
	Alpha         float64 `toml:"alpha"`
	Beta          float64 `toml:"beta"`
	IncreaseKbps  float64 `toml:"increase_kbps"`
	MinKbps       float64 `toml:"min_kbps"`
	MaxKbps       float64 `toml:"max_kbps"`
	KPersistence  int     `toml:"k_persistence"`
	EpsilonUS     float64 `toml:"epsilon_us"`
}

func (d DELTAConfig) ToDeltaConfig(schedule []float64) delta.Config {
	return delta.Config{
		TargetDelayUS: d.TargetDelayUS,
		Alpha:         d.Alpha,
		Beta:          d.Beta,
		IncreaseKbps:  d.IncreaseKbps,
		MinKbps:       d.MinKbps,
		MaxKbps:       d.MaxKbps,
		KPersistence:  d.KPersistence,
		EpsilonUS:     d.EpsilonUS,
		Schedule:      schedule,
	}
}

// Config is the top-level configuration document (§6), loaded from
// TOML the way the teacher's config layer does.
type Config struct {
	Transport TransportConfig `toml:"transport"`
	DELTA     DELTAConfig     `toml:"delta"`
	Session   SessionConfig   `toml:"session"`
	FEC       FECConfig       `toml:"fec"`
}

// DefaultConfig matches every default enumerated in §6.
func DefaultConfig() Config {
	return Config{
		Transport: TransportConfig{
			ListenAddr:   ":0",
			MTU:          MTU,
			RelayAllowed: true,
		},
		DELTA: DELTAConfig{
			TargetDelayUS: 15000,
			Alpha:         0.125,
			Beta:          0.85,
			IncreaseKbps:  500,
			MinKbps:       2000,
			MaxKbps:       50000,
			KPersistence:  3,
			EpsilonUS:     100.0,
		},
		Session: SessionConfig{
			IdleTimeoutS:       10,
			HandshakeBackoffMs: []int{200, 400, 800, 1600, 3200},
			DrainMs:            200,
			ReorderWindow:      64,
			TargetPlayDelayMs:  60,
		},
		FEC: FECConfig{
			Schedule: []float64{0.05, 0.10, 0.20, 0.35, 0.50},
			GroupMin: 4,
			GroupMax: 32,
		},
	}
}

// LoadConfig reads a TOML document from path and merges it over
// DefaultConfig, then validates it.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, rifterr.Wrap(rifterr.ConfigInvalid, err)
	}
	if _, err := toml.Decode(string(raw), &cfg); err != nil {
		return Config{}, rifterr.Wrap(rifterr.ConfigInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configuration values that would leave the
// orchestrator in an undefined state.
func (c Config) Validate() error {
	if c.Transport.MTU <= HeaderSize+TagSize {
		return rifterr.New(rifterr.ConfigInvalid)
	}
	if c.DELTA.MinKbps <= 0 || c.DELTA.MaxKbps < c.DELTA.MinKbps {
		return rifterr.New(rifterr.ConfigInvalid)
	}
	if c.DELTA.KPersistence < 1 {
		return rifterr.New(rifterr.ConfigInvalid)
	}
	if len(c.FEC.Schedule) == 0 {
		return rifterr.New(rifterr.ConfigInvalid)
	}
	if c.Session.ReorderWindow < 1 {
		return rifterr.New(rifterr.ConfigInvalid)
	}
	if c.FEC.GroupMin < 1 || c.FEC.GroupMax < c.FEC.GroupMin {
		return rifterr.New(rifterr.ConfigInvalid)
	}
	return nil
}
