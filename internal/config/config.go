// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config provides configuration loading, validation and live
// file change notification.
package config

import (
	"crypto/sha1"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/kortschak/frameseq/config"
)

// Alias the publicly visible types.
type (
	Config   = config.Config
	Playback = config.Playback
	Output   = config.Output
	Annotate = config.Annotate
	Sum      = config.Sum
)

// Load reads, parses and validates the TOML configuration file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse parses and validates a TOML configuration. The returned
// configuration's Sum is a semantic hash of its content.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	err := toml.Unmarshal(b, &cfg)
	if err != nil {
		return nil, err
	}
	// A sum in the file is not trusted.
	cfg.Sum = nil
	_, err = Validate(config.Schema, &cfg)
	if err != nil {
		return nil, err
	}
	h := sha1.New()
	err = json.NewEncoder(h).Encode(&cfg)
	if err != nil {
		return nil, err
	}
	cfg.Sum = (*Sum)(h.Sum(nil))
	return &cfg, nil
}

// ParseWebColor parses a #rrggbb color.
func ParseWebColor(s string) (color.NRGBA, error) {
	var r, g, b uint8
	if len(s) != 7 || s[0] != '#' {
		return color.NRGBA{}, errors.New("invalid web color")
	}
	_, err := fmt.Sscanf(s[1:], "%02x%02x%02x", &r, &g, &b)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid web color: %w", err)
	}
	return color.NRGBA{R: r, G: g, B: b, A: 0xff}, nil
}
