package tuning

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	RequestTimeoutS int `yaml:"request_timeout_s"`
	IdleTimeoutS    int `yaml:"idle_timeout_s"`
	SweepIntervalS  int `yaml:"sweep_interval_s"`
	SnapshotEveryS  int `yaml:"snapshot_every_s"`

	OutQueue int `yaml:"out_queue"`

	Limits Limits `yaml:"limits"`
}

// Limits caps what one side may put on the table. Zero means unlimited.
type Limits struct {
	MaxGoldPerTrade int `yaml:"max_gold_per_trade"`
	MaxItemStacks   int `yaml:"max_item_stacks"`
	MaxQtyPerItem   int `yaml:"max_qty_per_item"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		RequestTimeoutS: 30,
		IdleTimeoutS:    300,
		SweepIntervalS:  5,
		SnapshotEveryS:  600,
		OutQueue:        64,
		Limits: Limits{
			MaxGoldPerTrade: 1_000_000,
			MaxItemStacks:   12,
			MaxQtyPerItem:   10_000,
		},
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) RequestTimeout() time.Duration {
	return time.Duration(t.RequestTimeoutS) * time.Second
}

func (t Tuning) IdleTimeout() time.Duration {
	return time.Duration(t.IdleTimeoutS) * time.Second
}

func (t Tuning) SweepInterval() time.Duration {
	return time.Duration(t.SweepIntervalS) * time.Second
}

func (t Tuning) SnapshotEvery() time.Duration {
	return time.Duration(t.SnapshotEveryS) * time.Second
}
