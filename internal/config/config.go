package config

import (
	"fmt"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/spf13/viper"

	"metabench/internal/benchmark"
)

// RunConfig is the resolved configuration of one `metabench run`.
type RunConfig struct {
	Exe         string
	Params      benchmark.Params
	MinTime     time.Duration
	Warmup      time.Duration
	Timeout     time.Duration
	BaseFilter  string
	ExtraArgs   []string
	Output      string
	SaveRaw     string
	PinCore     int
	Live        bool
	HistoryDB   string
	MetricsAddr string
}

// FromViper resolves a RunConfig from v. The repeatable bench_arg values come
// first, followed by the shell-split bench_args string.
func FromViper(v *viper.Viper) (*RunConfig, error) {
	cfg := &RunConfig{
		Exe: v.GetString(KeyExe),
		Params: benchmark.Params{
			MinMetaReps:    v.GetInt(KeyMinMetaReps),
			MaxMetaReps:    v.GetInt(KeyMaxMetaReps),
			RelCIThreshold: v.GetFloat64(KeyRelCIThreshold),
		},
		MinTime:     v.GetDuration(KeyMinTime),
		Warmup:      v.GetDuration(KeyWarmup),
		Timeout:     v.GetDuration(KeyTimeout),
		BaseFilter:  v.GetString(KeyBaseFilter),
		Output:      v.GetString(KeyOutput),
		SaveRaw:     v.GetString(KeySaveRaw),
		PinCore:     v.GetInt(KeyPinCore),
		Live:        !v.GetBool(KeyNoLive),
		HistoryDB:   v.GetString(KeyHistoryDB),
		MetricsAddr: v.GetString(KeyMetricsAddr),
	}

	cfg.ExtraArgs = append(cfg.ExtraArgs, v.GetStringSlice(KeyBenchArg)...)
	if s := v.GetString(KeyBenchArgs); s != "" {
		words, err := shellquote.Split(s)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", KeyBenchArgs, s, err)
		}
		cfg.ExtraArgs = append(cfg.ExtraArgs, words...)
	}
	return cfg, nil
}

// Request returns the adapter request template implied by the config.
func (c *RunConfig) Request() benchmark.Request {
	return benchmark.Request{
		MinTime:   c.MinTime,
		Warmup:    c.Warmup,
		Timeout:   c.Timeout,
		ExtraArgs: c.ExtraArgs,
	}
}
