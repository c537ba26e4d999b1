package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. METABENCH_MIN_META_REPS.
const EnvPrefix = "METABENCH"

// Defaults.
const (
	DefaultMinMetaReps    = 5
	DefaultMaxMetaReps    = 30
	DefaultRelCIThreshold = 0.03
	DefaultMinTime        = 50 * time.Millisecond
	DefaultOutput         = "meta_results.json"
	DefaultPinCore        = -1
)

// Keys shared by flags, env and config files.
const (
	KeyExe            = "exe"
	KeyMinMetaReps    = "min_meta_reps"
	KeyMaxMetaReps    = "max_meta_reps"
	KeyRelCIThreshold = "rel_ci_threshold"
	KeyMinTime        = "min_time"
	KeyWarmup         = "warmup"
	KeyTimeout        = "timeout"
	KeyBaseFilter     = "base_filter"
	KeyBenchArg       = "bench_arg"
	KeyBenchArgs      = "bench_args"
	KeyOutput         = "output"
	KeySaveRaw        = "save_raw"
	KeyPinCore        = "pin_core"
	KeyNoLive         = "no_live"
	KeyHistoryDB      = "history_db"
	KeyMetricsAddr    = "metrics_addr"
	KeyVerbose        = "verbose"
	KeyQuiet          = "quiet"
	KeyLogFile        = "log_file"
)

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyMinMetaReps, DefaultMinMetaReps)
	v.SetDefault(KeyMaxMetaReps, DefaultMaxMetaReps)
	v.SetDefault(KeyRelCIThreshold, DefaultRelCIThreshold)
	v.SetDefault(KeyMinTime, DefaultMinTime)
	v.SetDefault(KeyWarmup, time.Duration(0))
	v.SetDefault(KeyTimeout, time.Duration(0))
	v.SetDefault(KeyOutput, DefaultOutput)
	v.SetDefault(KeyPinCore, DefaultPinCore)
	v.SetDefault(KeyNoLive, false)
	v.SetDefault(KeyVerbose, false)
	v.SetDefault(KeyQuiet, false)
}

// Load wires .env, environment variables and an optional config file into v.
// A missing default config file is not an error; a missing explicit one is.
// It returns the config file used, if any.
func Load(v *viper.Viper, cfgFile string) (string, error) {
	// .env is optional
	_ = godotenv.Load()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("metabench")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return "", nil
		}
		return "", err
	}
	return v.ConfigFileUsed(), nil
}
