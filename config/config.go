// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config provides frameseq configuration types and schemas.
package config

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"
)

// Config is a complete frameseq configuration.
type Config struct {
	LogLevel  *slog.Level `json:"log_level,omitempty" toml:"log_level"`
	AddSource *bool       `json:"log_add_source,omitempty" toml:"log_add_source"`

	Playback *Playback `json:"playback,omitempty" toml:"playback"`
	Output   *Output   `json:"output,omitempty" toml:"output"`
	Annotate *Annotate `json:"annotate,omitempty" toml:"annotate"`

	// Sum is the SHA-1 sum of the configuration file
	// the configuration was read from.
	Sum *Sum `json:"sum,omitempty"`
}

// Playback is the playback configuration.
type Playback struct {
	// LoopLimit overrides the container's loop count.
	// A value of zero plays forever.
	LoopLimit *int `json:"loop_limit,omitempty" toml:"loop_limit"`
	// Width and Height are the desired display
	// dimensions used to select the sample size.
	Width  *int `json:"width,omitempty" toml:"width"`
	Height *int `json:"height,omitempty" toml:"height"`
}

// Output is the rendered frame output configuration.
type Output struct {
	// Dir is the directory frames are written to.
	Dir *string `json:"dir,omitempty" toml:"dir"`
	// Pattern is the fmt pattern for frame file names.
	// It is given the render sequence number.
	Pattern *string `json:"pattern,omitempty" toml:"pattern"`
	// GIF is the path of an animated GIF recording
	// of the rendered frames.
	GIF *string `json:"gif,omitempty" toml:"gif"`
}

// Annotate is the frame annotation configuration.
type Annotate struct {
	Enabled bool `json:"enabled,omitempty" toml:"enabled"`
	// Color and Outline are web colors, #rrggbb.
	Color   *string `json:"color,omitempty" toml:"color"`
	Outline *string `json:"outline,omitempty" toml:"outline"`
}

// Schema is the CUE schema for a valid configuration.
const Schema = `
{
	log_level?:      _#log_level
	log_add_source?: bool
	playback?:       _#playback
	output?:         _#output
	annotate?:       _#annotate
	sum?:            string
}

_#playback: {
	loop_limit?: int & >=0
	width?:      int & >0
	height?:     int & >0
}

_#output: {
	dir?:     !=""
	pattern?: =~"%[0-9]*d"
	gif?:     !=""
}

_#annotate: {
	enabled?: bool
	color?:   _#web_color
	outline?: _#web_color
}

_#web_color: =~"^#[0-9a-fA-F]{6}$"
_#log_level: =~"(?i)^(?:debug|info|warn|error)$"
`

// Sum is a comparable optional SHA-1 sum.
type Sum [sha1.Size]byte

// Equal returns whether s is equal to other.
func (s *Sum) Equal(other *Sum) bool {
	switch {
	case s == other:
		return true
	case s != nil && other != nil:
		return *s == *other
	default:
		return false
	}
}

func (s *Sum) String() string {
	if s == nil {
		return ""
	}
	return hex.EncodeToString(s[:])
}

func (s *Sum) UnmarshalText(text []byte) error {
	if len(text) != hex.EncodedLen(len(s)) {
		return fmt.Errorf("invalid length: %d != %d", len(text), hex.EncodedLen(len(s)))
	}
	_, err := hex.Decode(s[:], text)
	if err != nil {
		return err
	}
	return nil
}

func (s *Sum) MarshalText() (text []byte, err error) {
	if s == nil {
		return nil, nil
	}
	text = make([]byte, hex.EncodedLen(len(s)))
	hex.Encode(text, s[:])
	return text, nil
}
