package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/onnwee/chatpoll/ledger"
)

// FileConfig is the YAML overlay. Unset fields leave the environment value alone.
//
//	channel: somestreamer
//	ledger:
//	  max_size: 1000
//	  expire_after: 30s
//	  top: 20
//	  threshold: 0.2
type FileConfig struct {
	Channel *string     `yaml:"channel"`
	Ledger  LedgerBlock `yaml:"ledger"`
}

type LedgerBlock struct {
	MaxSize     *int           `yaml:"max_size"`
	ExpireAfter *time.Duration `yaml:"expire_after"`
	Top         *int           `yaml:"top"`
	Threshold   *float64       `yaml:"threshold"`
}

// ReadFile parses the YAML overlay at path.
func ReadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return ParseFile(data)
}

// ParseFile parses YAML overlay bytes. Unknown keys are rejected so typos surface.
func ParseFile(data []byte) (*FileConfig, error) {
	var fc FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return &fc, nil
}

// ApplyTo copies every set field onto cfg.
func (fc *FileConfig) ApplyTo(cfg *Config) {
	if fc.Channel != nil {
		cfg.TwitchChannel = *fc.Channel
	}
	fc.Ledger.applyTo(&cfg.Ledger)
}

func (lb LedgerBlock) applyTo(s *ledger.Settings) {
	if lb.MaxSize != nil {
		s.MaxSize = *lb.MaxSize
	}
	if lb.ExpireAfter != nil {
		s.ExpireAfter = *lb.ExpireAfter
	}
	if lb.Top != nil {
		s.Top = *lb.Top
	}
	if lb.Threshold != nil {
		s.Threshold = *lb.Threshold
	}
}

// Merge returns base with the file's ledger fields applied on top.
func (fc *FileConfig) Merge(base ledger.Settings) ledger.Settings {
	fc.Ledger.applyTo(&base)
	return base
}
