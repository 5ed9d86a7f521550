// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xdg

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

var envOrDefaultTests = []struct {
	set map[string]string

	key, def, home string

	want   string
	wantOK bool
}{
	0: {
		set: map[string]string{
			"test_HOME": "testdata/home",
			"testkey":   "testdata/home/dir",
		},
		key:  "testkey",
		def:  "testdata/global_dir",
		home: "test_HOME",

		want:   "testdata/home/dir",
		wantOK: true,
	},
	1: {
		set: map[string]string{
			"test_HOME": "testdata/home",
		},
		key:  "testkey",
		def:  "testdata/global_dir",
		home: "test_HOME",

		want:   "testdata/home/testdata/global_dir",
		wantOK: true,
	},
	2: {
		set: map[string]string{
			"test_HOME": "testdata/home",
		},
		key:  "testkey",
		def:  "",
		home: "test_HOME",

		want:   "",
		wantOK: false,
	},
	3: {
		set: map[string]string{
			"test_HOME": "testdata/home",
		},
		key:  "testkey",
		def:  "testdata/global_dir",
		home: "",

		want:   "testdata/global_dir",
		wantOK: true,
	},
	4: {
		set: map[string]string{
			"test_HOME": "testdata/home",
		},
		key:  "testkey",
		def:  "testdata/global_dir",
		home: "invalid",

		want:   "",
		wantOK: false,
	},
}

func TestEnvOrDefault(t *testing.T) {
	for i, test := range envOrDefaultTests {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			for k, v := range test.set {
				if _, ok := os.LookupEnv(k); ok {
					t.Fatalf("already set in env: %s", k)
				}
				if k == "test_HOME" && test.home == "" {
					continue
				}
				t.Setenv(k, v)
			}

			got, gotOK := envOrDefault(test.key, test.def, test.home)
			if gotOK != test.wantOK {
				t.Errorf("unexpected ok: got:%t want:%t", gotOK, test.wantOK)
			}
			if got != test.want {
				t.Errorf("unexpected result: got:%q want:%q", got, test.want)
			}
		})
	}
}

func TestConfig(t *testing.T) {
	if key_XDG_CONFIG_HOME == "" {
		t.Skip("config home is not configurable on this platform")
	}
	home := t.TempDir()
	t.Setenv(key_XDG_CONFIG_HOME, home)
	name := filepath.Join("frameseq", "frameseq.toml")

	_, err := Config(name, true)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("unexpected error for missing config: %v", err)
	}

	want := filepath.Join(home, name)
	err = os.MkdirAll(filepath.Dir(want), 0o755)
	if err != nil {
		t.Fatalf("unexpected error making config dir: %v", err)
	}
	err = os.WriteFile(want, nil, 0o644)
	if err != nil {
		t.Fatalf("unexpected error writing config: %v", err)
	}
	got, err := Config(name, true)
	if err != nil {
		t.Fatalf("unexpected error finding config: %v", err)
	}
	if got != want {
		t.Errorf("unexpected config path: got:%q want:%q", got, want)
	}
}
