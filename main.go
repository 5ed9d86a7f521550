// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The frameseq command plays APNG, animated WebP and GIF images, writing
// the rendered frames to files.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/kortschak/frameseq/decoder"
	"github.com/kortschak/frameseq/internal/config"
	"github.com/kortschak/frameseq/internal/slogext"
	"github.com/kortschak/frameseq/internal/version"
	"github.com/kortschak/frameseq/internal/xdg"
)

// Exit status codes.
const (
	success       = 0
	internalError = 1 << (iota - 1)
	invocationError
)

func main() { os.Exit(Main()) }

func Main() int {
	logging := flag.String("log", "info", "logging level (debug, info, warn or error)")
	lines := flag.Bool("lines", false, "display source line details in logs")
	v := flag.Bool("version", false, "print version and exit")
	cfgPath := flag.String("config", "", "configuration file (default $XDG_CONFIG_HOME/frameseq/config.toml)")
	out := flag.String("out", "", "directory to write rendered frames to")
	gifPath := flag.String("gif", "", "write the rendered frames to an animated GIF")
	size := flag.String("size", "", "desired display size (WxH)")
	loops := flag.Int("loops", -1, "number of plays, zero plays forever (default the image's loop count, at most once if forever)")
	frame := flag.Int("frame", -1, "write a single frame and exit, negative frames count from the end")
	info := flag.Bool("info", false, "print a JSON description of the image and exit")
	annotate := flag.Bool("annotate", false, "overlay frame details on rendered frames")
	watch := flag.Bool("watch", false, "play again when the image or configuration changes")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [options] <image>\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()
	if *v {
		err := version.Print(os.Stdout)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return internalError
		}
		return success
	}
	if flag.NArg() != 1 {
		flag.Usage()
		return invocationError
	}
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	var level slog.LevelVar
	err := level.UnmarshalText([]byte(*logging))
	if err != nil {
		flag.Usage()
		return invocationError
	}
	addSource := slogext.NewAtomicBool(*lines)
	log := slog.New(slogext.GoID{Handler: slogext.NewJSONHandler(os.Stderr, &slogext.HandlerOptions{
		Level:     &level,
		AddSource: addSource,
	})})
	mlog := log.With(slog.String("component", "main"))

	p := &player{
		image:   flag.Arg(0),
		log:     log,
		pattern: "frame-%04d.png",
		loops:   -1,
		frame:   -1,
	}
	// Flags override the configuration file.
	p.cfgPath, err = configPath(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return invocationError
	}
	if p.cfgPath != "" {
		cfg, err := config.Load(p.cfgPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return invocationError
		}
		err = p.apply(cfg)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return invocationError
		}
		if cfg.LogLevel != nil && !set["log"] {
			level.Set(*cfg.LogLevel)
		}
		if cfg.AddSource != nil && !set["lines"] {
			addSource.Store(*cfg.AddSource)
		}
		mlog.LogAttrs(context.Background(), slog.LevelInfo, "loaded config", slog.String("path", p.cfgPath), slog.String("sum", cfg.Sum.String()))
	}
	p.override = func(p *player) error {
		if set["out"] {
			p.dir = *out
		}
		if set["gif"] {
			p.gif = *gifPath
		}
		if set["size"] {
			var err error
			p.width, p.height, err = parseSize(*size)
			if err != nil {
				return err
			}
		}
		if set["loops"] {
			if *loops < 0 {
				return errors.New("invalid loop count")
			}
			p.loops = *loops
		}
		if set["frame"] {
			p.frame = *frame
			p.single = true
		}
		if set["annotate"] {
			p.annotate = *annotate
		}
		return nil
	}
	err = p.override(p)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		return invocationError
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	defer signal.Stop(c)
	go func() {
		select {
		case <-c:
			mlog.LogAttrs(ctx, slog.LevelInfo, "terminating")
			cancel()
		case <-ctx.Done():
		}
	}()

	if *info {
		err = p.describe(os.Stdout)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return internalError
		}
		return success
	}

	if !*watch {
		err = p.run(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return internalError
		}
		return success
	}

	err = p.watch(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return internalError
	}
	return success
}

// configPath returns the configuration file path to use. If path is empty,
// the user's configuration directory is searched and an empty path is
// returned if no configuration is found.
func configPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	path, err := xdg.Config(filepath.Join("frameseq", "config.toml"), false)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return path, nil
}

func parseSize(s string) (w, h int, err error) {
	_, err = fmt.Sscanf(s, "%dx%d", &w, &h)
	if err != nil || w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("invalid size: %q", s)
	}
	return w, h, nil
}

// player holds the playback options for an image.
type player struct {
	image   string
	cfgPath string
	log     *slog.Logger

	dir     string
	pattern string
	gif     string

	width, height int

	// loops is the loop limit. If negative, the
	// image's loop count is used, limited to a
	// single play if it is infinite.
	loops int

	single bool
	frame  int

	annotate   bool
	fg, stroke color.Color

	// override applies command line options
	// after the configuration file.
	override func(*player) error
}

// apply sets the player's options from cfg.
func (p *player) apply(cfg *config.Config) error {
	if pb := cfg.Playback; pb != nil {
		if pb.LoopLimit != nil {
			p.loops = *pb.LoopLimit
		}
		if pb.Width != nil && pb.Height != nil {
			p.width, p.height = *pb.Width, *pb.Height
		}
	}
	if o := cfg.Output; o != nil {
		if o.Dir != nil {
			p.dir = *o.Dir
		}
		if o.Pattern != nil {
			p.pattern = *o.Pattern
		}
		if o.GIF != nil {
			p.gif = *o.GIF
		}
	}
	if a := cfg.Annotate; a != nil {
		p.annotate = a.Enabled
		if a.Color != nil {
			c, err := config.ParseWebColor(*a.Color)
			if err != nil {
				return err
			}
			p.fg = c
		}
		if a.Outline != nil {
			c, err := config.ParseWebColor(*a.Outline)
			if err != nil {
				return err
			}
			p.stroke = c
		}
	}
	return nil
}

func (p *player) newDecoder() *decoder.Decoder {
	opts := &decoder.Options{Log: p.log}
	if p.loops >= 0 {
		opts.LoopLimit = &p.loops
	}
	return decoder.New(decoder.FileSource(p.image), opts)
}

// open returns a decoder for the player's image, failing if the image
// cannot be parsed.
func (p *player) open() (*decoder.Decoder, error) {
	dec := p.newDecoder()
	if dec.Bounds().Empty() {
		err := dec.Err()
		dec.Close()
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", p.image, decoder.ErrMissingHeader)
	}
	return dec, nil
}

// resize sets the decoder's sample factor for the player's display size.
func (p *player) resize(dec *decoder.Decoder) {
	if p.width > 0 && p.height > 0 {
		dec.SetDesiredSize(p.width, p.height)
	}
}

// description is the JSON description of an image.
type description struct {
	Width     int                `json:"width"`
	Height    int                `json:"height"`
	LoopCount int                `json:"loop_count"`
	Frames    []frameDescription `json:"frames"`
}

type frameDescription struct {
	Index    int     `json:"index"`
	Bounds   [4]int  `json:"bounds"`
	Duration float64 `json:"duration_ms"`
	Dispose  string  `json:"dispose"`
	Blend    string  `json:"blend"`
}

// describe writes a JSON description of the player's image to w.
func (p *player) describe(w io.Writer) error {
	dec, err := p.open()
	if err != nil {
		return err
	}
	defer dec.Close()
	b := dec.Bounds()
	d := description{
		Width:     b.Dx(),
		Height:    b.Dy(),
		LoopCount: dec.LoopCount(),
		Frames:    []frameDescription{},
	}
	for i := range dec.FrameCount() {
		f, ok := dec.Frame(i)
		if !ok {
			break
		}
		d.Frames = append(d.Frames, frameDescription{
			Index:    f.Index,
			Bounds:   [4]int{f.Bounds.Min.X, f.Bounds.Min.Y, f.Bounds.Max.X, f.Bounds.Max.Y},
			Duration: float64(f.Duration) / float64(time.Millisecond),
			Dispose:  f.Dispose.String(),
			Blend:    f.Blend.String(),
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "\t")
	return enc.Encode(d)
}

// run plays the image once, writing rendered frames to the player's outputs.
// Playback is stopped when ctx is cancelled.
func (p *player) run(ctx context.Context) error {
	if p.dir != "" || p.single {
		dir := p.dir
		if dir == "" {
			dir = "."
		}
		err := os.MkdirAll(dir, 0o755)
		if err != nil {
			return err
		}
		lock := flock.New(filepath.Join(dir, ".frameseq.lock"))
		ok, err := lock.TryLock()
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("output directory %s is in use", dir)
		}
		defer func() {
			lock.Unlock()
			os.Remove(lock.Path())
		}()
	}

	dec, err := p.open()
	if err != nil {
		return err
	}
	defer dec.Close()

	if p.single {
		n := dec.FrameCount()
		idx := p.frame
		if idx < 0 {
			idx += n
		}
		idx = min(max(idx, 0), n-1)
		f, _ := dec.Frame(idx)
		p.resize(dec)
		m, err := dec.FrameImage(idx)
		if err != nil {
			return err
		}
		if p.annotate {
			p.label(m, f)
		}
		return writePNG(p.path(idx), m)
	}

	if p.loops < 0 && dec.LoopCount() == 0 {
		p.log.LogAttrs(ctx, slog.LevelInfo, "limiting infinite animation to one play")
		dec.SetLoopLimit(1)
	}
	p.resize(dec)

	s := newSink(ctx, p, dec)
	dec.AddSink(s)
	dec.Start()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
wait:
	for {
		select {
		case <-s.done:
			break wait
		case <-ctx.Done():
			if !s.started.Load() && dec.State() == decoder.Idle {
				return ctx.Err()
			}
			dec.Stop()
			<-s.done
			break wait
		case <-tick.C:
			// A session that failed to open never starts.
			if !s.started.Load() && dec.State() == decoder.Idle {
				if err := dec.Err(); err != nil {
					return err
				}
				return errors.New("playback did not start")
			}
		}
	}
	dec.RemoveSink(s)
	if s.err != nil {
		return s.err
	}
	if dec.Err() != nil {
		return dec.Err()
	}
	p.log.LogAttrs(ctx, slog.LevelInfo, "played", slog.Int("renders", s.n))
	if p.gif == "" {
		return nil
	}
	if s.rec.Len() == 0 {
		return errors.New("no frames rendered for gif")
	}
	f, err := os.Create(p.gif)
	if err != nil {
		return err
	}
	err = s.rec.Encode(f)
	if err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (p *player) path(n int) string {
	return filepath.Join(p.dir, fmt.Sprintf(p.pattern, n))
}

// watch plays the image, playing it again each time the image or the
// configuration file changes until ctx is cancelled.
func (p *player) watch(ctx context.Context) error {
	files := []string{p.image}
	if p.cfgPath != "" {
		files = append(files, p.cfgPath)
	}
	changes := make(chan config.Change)
	w, err := config.NewWatcher(ctx, files, changes, -1, p.log)
	if err != nil {
		return err
	}
	defer w.Close()

	log := p.log.With(slog.String("component", "main"))
	for {
		runCtx, cancel := context.WithCancel(ctx)
		result := make(chan error, 1)
		go func() { result <- p.run(runCtx) }()

		var change config.Change
		select {
		case <-ctx.Done():
			cancel()
			<-result
			return nil
		case change = <-changes:
			cancel()
			err = <-result
		case err = <-result:
			if err != nil {
				log.LogAttrs(ctx, slog.LevelError, "play", slog.Any("error", err))
			}
			select {
			case <-ctx.Done():
				cancel()
				return nil
			case change = <-changes:
			}
		}
		cancel()
		log.LogAttrs(ctx, slog.LevelInfo, "change", slog.Any("change", change))
		if change.Err != nil || p.cfgPath == "" || !sameFile(change.Event.Name, p.cfgPath) {
			continue
		}
		cfg, err := config.Load(p.cfgPath)
		if err != nil {
			log.LogAttrs(ctx, slog.LevelWarn, "invalid config", slog.Any("error", err))
			continue
		}
		err = p.apply(cfg)
		if err != nil {
			log.LogAttrs(ctx, slog.LevelWarn, "invalid config", slog.Any("error", err))
			continue
		}
		err = p.override(p)
		if err != nil {
			return err
		}
	}
}

func sameFile(a, b string) bool {
	a, errA := filepath.Abs(a)
	b, errB := filepath.Abs(b)
	return errA == nil && errB == nil && a == b
}

func writePNG(path string, m image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	err = png.Encode(f, m)
	if err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
