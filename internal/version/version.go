// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package version reports the build version of frameseq and of the image
// codec module it was built with.
package version

import (
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"strings"
)

// codecModule provides the WebP decoder and frame scaling.
const codecModule = "golang.org/x/image"

// Info is the version information for a build.
type Info struct {
	Path      string
	Version   string
	Revision  string
	Modified  bool
	GoVersion string

	// Codec is the version of the image codec
	// module. It is empty if the module is not
	// a dependency of the build.
	Codec string
}

// Read returns the version information for the running binary.
func Read() (Info, error) {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return Info{}, errors.New("no build info")
	}
	return FromBuildInfo(bi), nil
}

// FromBuildInfo returns the version information held in bi.
func FromBuildInfo(bi *debug.BuildInfo) Info {
	v := Info{
		Path:      bi.Main.Path,
		Version:   bi.Main.Version,
		GoVersion: bi.GoVersion,
	}
	for _, bs := range bi.Settings {
		switch bs.Key {
		case "vcs.revision":
			v.Revision = bs.Value
		case "vcs.modified":
			v.Modified = bs.Value == "true"
		}
	}
	for _, m := range bi.Deps {
		if m.Path != codecModule {
			continue
		}
		if m.Replace != nil {
			m = m.Replace
		}
		v.Codec = m.Version
		break
	}
	return v
}

func (v Info) String() string {
	var buf strings.Builder
	buf.WriteString(v.Path)
	if v.Version != "" {
		fmt.Fprintf(&buf, " %s", v.Version)
	}
	if v.Revision != "" {
		fmt.Fprintf(&buf, " %s", v.Revision)
		if v.Modified {
			buf.WriteString(" (modified)")
		}
	}
	if v.GoVersion != "" {
		fmt.Fprintf(&buf, " %s", v.GoVersion)
	}
	if v.Codec != "" {
		fmt.Fprintf(&buf, " %s@%s", codecModule, v.Codec)
	}
	return buf.String()
}

// Print writes the build version of the running binary to w.
func Print(w io.Writer) error {
	v, err := Read()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, v)
	return err
}
