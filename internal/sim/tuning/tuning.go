package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Overload policies for the engine mailbox.
const (
	PolicyReject     = "reject"
	PolicyDropOldest = "drop_oldest"
)

type Tuning struct {
	TickPeriodMs      int `yaml:"tick_period_ms"`
	MinTickIntervalMs int `yaml:"min_tick_interval_ms"`

	NodeCount     int     `yaml:"node_count"`
	WorldExtent   int64   `yaml:"world_extent"`
	MinSeparation float64 `yaml:"min_separation"`
	MinLinks      int     `yaml:"min_links"`
	MaxLinks      int     `yaml:"max_links"`

	// Travel speed (distance units per second) and per-link outflow rate
	// (amount per second). The outflow rate is a stand-in for a future
	// player-weighted throughput.
	Speed       float64 `yaml:"speed"`
	OutflowRate float64 `yaml:"outflow_rate"`

	MailboxCapacity int    `yaml:"mailbox_capacity"`
	OverloadPolicy  string `yaml:"overload_policy"`
	ClientQueue     int    `yaml:"client_queue"`
}

func Default() Tuning {
	var t Tuning
	t.applyDefaults()
	return t
}

func (t *Tuning) applyDefaults() {
	if t.TickPeriodMs <= 0 {
		t.TickPeriodMs = 500
	}
	if t.MinTickIntervalMs <= 0 {
		t.MinTickIntervalMs = 200
	}
	if t.NodeCount <= 0 {
		t.NodeCount = 100
	}
	if t.WorldExtent <= 0 {
		t.WorldExtent = 1000
	}
	if t.MinSeparation <= 0 {
		t.MinSeparation = 100
	}
	if t.MinLinks <= 0 {
		t.MinLinks = 2
	}
	if t.MaxLinks < t.MinLinks {
		t.MaxLinks = 5
	}
	if t.Speed <= 0 {
		t.Speed = 100
	}
	if t.OutflowRate <= 0 {
		t.OutflowRate = 0.5
	}
	if t.MailboxCapacity <= 0 {
		t.MailboxCapacity = 256
	}
	if t.OverloadPolicy == "" {
		t.OverloadPolicy = PolicyReject
	}
	if t.ClientQueue <= 0 {
		t.ClientQueue = 16
	}
}

func (t *Tuning) validate() error {
	switch t.OverloadPolicy {
	case PolicyReject, PolicyDropOldest:
	default:
		return fmt.Errorf("unknown overload_policy %q", t.OverloadPolicy)
	}
	if t.MinTickIntervalMs > t.TickPeriodMs {
		return fmt.Errorf("min_tick_interval_ms (%d) exceeds tick_period_ms (%d)", t.MinTickIntervalMs, t.TickPeriodMs)
	}
	return nil
}

func Load(path string) (Tuning, error) {
	var t Tuning
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.applyDefaults()
	if err := t.validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}
