// Package config loads and saves the flat key = value configuration
// file (spec.md §6), generalizing the teacher's global-struct +
// Reload pattern (cppla-moto/config/setting.go) onto an INI-shaped
// wire format via gopkg.in/ini.v1, the same library samsamfire's EDS
// parser uses for key/value sections.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/ini.v1"

	"rdmaxfer/internal/rerrors"
)

// Config is the in-memory record of every recognized key.
type Config struct {
	RdmaGidIndex int
	ListenPort   int
	MaxThreadNum int
	DefaultRate  float64
	BlockSize    int // KiB
	BlockNum     int
}

// Default matches the teacher's pre-load defaults, used only when no
// config file exists yet.
var Default = Config{
	RdmaGidIndex: 0,
	ListenPort:   18515,
	MaxThreadNum: 16,
	DefaultRate:  10.0,
	BlockSize:    64,
	BlockNum:     16,
}

const op = "config"

// Load reads path, validating every recognized key. On missing file,
// it atomically writes Default and returns it.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default
		if err := Save(path, &cfg); err != nil {
			return nil, rerrors.New(rerrors.EInvalidConfig, op, err)
		}
		return &cfg, nil
	}

	f, err := ini.Load(path)
	if err != nil {
		return nil, rerrors.New(rerrors.EInvalidConfig, op, err)
	}
	section := f.Section("")
	for _, k := range section.Keys() {
		switch k.Name() {
		case "RdmaGidIndex", "ListenPort", "MaxThreadNum", "DefaultRate", "BlockSize", "BlockNum":
		default:
			return nil, rerrors.New(rerrors.EInvalidConfig, op, fmt.Errorf("unknown key %q", k.Name()))
		}
	}

	cfg := &Config{}
	if cfg.RdmaGidIndex, err = getIntRange(section, "RdmaGidIndex", 0, 1<<31-1); err != nil {
		return nil, err
	}
	if cfg.ListenPort, err = getIntRange(section, "ListenPort", 1, 65535); err != nil {
		return nil, err
	}
	if cfg.MaxThreadNum, err = getIntRange(section, "MaxThreadNum", 1, 1024); err != nil {
		return nil, err
	}
	rate, err := section.GetKey("DefaultRate")
	if err != nil {
		return nil, rerrors.New(rerrors.EInvalidConfig, op, err)
	}
	cfg.DefaultRate, err = rate.Float64()
	if err != nil || cfg.DefaultRate <= 0 {
		return nil, rerrors.New(rerrors.EInvalidConfig, op, fmt.Errorf("DefaultRate must be > 0, got %q", rate.Value()))
	}
	if cfg.BlockSize, err = getIntRange(section, "BlockSize", 4, 1048576); err != nil {
		return nil, err
	}
	if cfg.BlockNum, err = getIntRange(section, "BlockNum", 1, 65536); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getIntRange(section *ini.Section, key string, lo, hi int) (int, error) {
	k, err := section.GetKey(key)
	if err != nil {
		return 0, rerrors.New(rerrors.EInvalidConfig, op, err)
	}
	v, err := k.Int()
	if err != nil {
		return 0, rerrors.New(rerrors.EInvalidConfig, op, fmt.Errorf("%s: %w", key, err))
	}
	if v < lo || v > hi {
		return 0, rerrors.New(rerrors.EInvalidConfig, op, fmt.Errorf("%s=%d out of range [%d,%d]", key, v, lo, hi))
	}
	return v, nil
}

// Save writes cfg to path atomically (temp file + rename, same
// directory so the rename is on one filesystem).
func Save(path string, cfg *Config) error {
	f := ini.Empty()
	section := f.Section("")
	section.Comment = "RDMA file transfer configuration"
	set := func(key string, val any) { section.Key(key).SetValue(fmt.Sprint(val)) }
	set("RdmaGidIndex", cfg.RdmaGidIndex)
	set("ListenPort", cfg.ListenPort)
	set("MaxThreadNum", cfg.MaxThreadNum)
	set("DefaultRate", cfg.DefaultRate)
	set("BlockSize", cfg.BlockSize)
	set("BlockNum", cfg.BlockNum)

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return rerrors.New(rerrors.EIoOpen, op, err)
	}
	tmpPath := tmp.Name()
	if _, err := f.WriteTo(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return rerrors.New(rerrors.EIoShort, op, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return rerrors.New(rerrors.EIoShort, op, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return rerrors.New(rerrors.EIoOpen, op, err)
	}
	return nil
}
