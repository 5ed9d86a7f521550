// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/rogpeppe/go-internal/gotooltest"
	"github.com/rogpeppe/go-internal/testscript"

	"github.com/kortschak/frameseq/internal/apngtest"
)

var (
	update = flag.Bool("update", false, "update tests")
	keep   = flag.Bool("keep", false, "keep $WORK directory after tests")
)

func TestMain(m *testing.M) {
	os.Exit(testscript.RunMain(m, map[string]func() int{
		"frameseq": Main,
	}))
}

func TestScripts(t *testing.T) {
	t.Parallel()

	p := testscript.Params{
		Dir:           filepath.Join("testdata"),
		UpdateScripts: *update,
		TestWork:      *keep,
		Cmds: map[string]func(ts *testscript.TestScript, neg bool, args []string){
			"mkapng":  mkapng,
			"pngsize": pngsize,
			"gifinfo": gifinfo,
		},
	}
	if err := gotooltest.Setup(&p); err != nil {
		t.Fatal(err)
	}
	testscript.Run(t, p)
}

var palette = color.Palette{
	color.RGBA{},
	color.RGBA{R: 0xff, A: 0xff},
	color.RGBA{G: 0xff, A: 0xff},
	color.RGBA{B: 0xff, A: 0xff},
}

// mkapng writes an APNG with solid color frames cycling through red,
// green and blue.
func mkapng(ts *testscript.TestScript, neg bool, args []string) {
	if neg {
		ts.Fatalf("unsupported: ! mkapng")
	}
	fs := flag.NewFlagSet("mkapng", flag.ContinueOnError)
	frames := fs.Int("frames", 3, "number of frames")
	plays := fs.Int("plays", 1, "number of plays, zero is forever")
	delay := fs.Int("delay", 20, "frame delay in milliseconds")
	size := fs.String("size", "16x16", "image size")
	truncate := fs.Int("truncate", 0, "truncate the output to this many bytes")
	err := fs.Parse(args)
	ts.Check(err)
	if fs.NArg() != 1 {
		ts.Fatalf("usage: mkapng [-frames n] [-plays n] [-delay ms] [-size WxH] [-truncate n] file")
	}
	w, h, err := parseSize(*size)
	ts.Check(err)

	a := apngtest.Animation{Width: w, Height: h, NumPlays: *plays}
	for i := range *frames {
		a.Frames = append(a.Frames, apngtest.Frame{
			Image:    apngtest.Solid(w, h, palette, uint8(i%3+1)),
			DelayNum: uint16(*delay),
			DelayDen: 1000,
		})
	}
	var buf bytes.Buffer
	err = apngtest.Encode(&buf, a)
	ts.Check(err)
	b := buf.Bytes()
	if *truncate > 0 {
		b = b[:*truncate]
	}
	err = os.WriteFile(ts.MkAbs(fs.Arg(0)), b, 0o644)
	ts.Check(err)
}

// pngsize checks the dimensions of a PNG file.
func pngsize(ts *testscript.TestScript, neg bool, args []string) {
	if len(args) != 2 {
		ts.Fatalf("usage: pngsize file WxH")
	}
	f, err := os.Open(ts.MkAbs(args[0]))
	ts.Check(err)
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	ts.Check(err)
	got := fmt.Sprintf("%dx%d", cfg.Width, cfg.Height)
	if (got == args[1]) == neg {
		ts.Fatalf("unexpected size for %s: got:%s want:%s", args[0], got, args[1])
	}
}

// gifinfo checks the number of frames and the loop count of a GIF file.
func gifinfo(ts *testscript.TestScript, neg bool, args []string) {
	if neg {
		ts.Fatalf("unsupported: ! gifinfo")
	}
	if len(args) != 3 {
		ts.Fatalf("usage: gifinfo file frames loops")
	}
	f, err := os.Open(ts.MkAbs(args[0]))
	ts.Check(err)
	defer f.Close()
	g, err := gif.DecodeAll(f)
	ts.Check(err)
	frames, err := strconv.Atoi(args[1])
	ts.Check(err)
	loops, err := strconv.Atoi(args[2])
	ts.Check(err)
	if len(g.Image) != frames {
		ts.Fatalf("unexpected number of frames: got:%d want:%d", len(g.Image), frames)
	}
	if g.LoopCount != loops {
		ts.Fatalf("unexpected loop count: got:%d want:%d", g.LoopCount, loops)
	}
	if b := g.Image[0].Bounds(); b.Min != (image.Point{}) {
		ts.Fatalf("unexpected frame origin: %v", b.Min)
	}
}

func TestParseSize(t *testing.T) {
	for _, test := range []struct {
		in      string
		w, h    int
		wantErr bool
	}{
		{in: "64x48", w: 64, h: 48},
		{in: "1x1", w: 1, h: 1},
		{in: "0x10", wantErr: true},
		{in: "64", wantErr: true},
		{in: "axb", wantErr: true},
	} {
		w, h, err := parseSize(test.in)
		if (err != nil) != test.wantErr {
			t.Errorf("unexpected error for %q: %v", test.in, err)
		}
		if w != test.w || h != test.h {
			t.Errorf("unexpected size for %q: got:%dx%d want:%dx%d", test.in, w, h, test.w, test.h)
		}
	}
}
