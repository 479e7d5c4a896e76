package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/okkul/relive/internal/config"
	"github.com/okkul/relive/internal/engine"
	"github.com/okkul/relive/internal/httpclient"
	"github.com/okkul/relive/internal/logger"
	"github.com/okkul/relive/internal/models"
	"github.com/okkul/relive/internal/parser"
	"github.com/okkul/relive/internal/state"
	"github.com/okkul/relive/internal/tui"
)

var (
	version = "1.0.0"
	commit  = "dev"
)

func main() {
	cfg := parseFlags()

	if cfg.ShowVersion {
		fmt.Printf("relive %s (%s)\n", version, commit)
		os.Exit(0)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		flag.Usage()
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() *config.Config {
	cfg := config.New()

	flag.StringVar(&cfg.MpdURL, "url", "", "")
	flag.StringVar(&cfg.MpdURL, "u", "", "")
	flag.StringVar(&cfg.OutputDir, "output", "", "")
	flag.StringVar(&cfg.OutputDir, "o", "", "")
	flag.IntVar(&cfg.ParallelCandidates, "parallel-candidates", config.DefaultParallelCandidates, "")
	flag.IntVar(&cfg.ParallelCandidates, "p", config.DefaultParallelCandidates, "")
	flag.BoolVar(&cfg.LiveOnly, "live-only", false, "")
	flag.BoolVar(&cfg.LiveOnly, "l", false, "")
	flag.BoolVar(&cfg.NoMerge, "no-merge", false, "")
	flag.Int64Var(&cfg.MaxBandwidth, "max-bandwidth", 0, "")
	flag.StringVar(&cfg.MergeDir, "merge", "", "")
	flag.BoolVar(&cfg.NoProgress, "no-progress", false, "")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "")
	flag.BoolVar(&cfg.Verbose, "v", false, "")
	flag.BoolVar(&cfg.ShowVersion, "version", false, "")

	flag.Usage = printUsage
	flag.Parse()

	if cfg.MpdURL == "" && flag.NArg() > 0 {
		cfg.MpdURL = flag.Arg(0)
	}

	return cfg
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `relive - live stream archiver: downloads a running broadcast including past segments

Usage: relive [options] <MPD URL>

Options:
  -u, --url <URL>              Manifest (.mpd) URL
  -o, --output <dir>           Output directory (default: derived from stream id)
  -p, --parallel-candidates N  Past segments to check in parallel (default: 10)
  -l, --live-only              Don't download past segments
      --no-merge               Don't merge into one video file after download
      --max-bandwidth <bps>    Cap download speed in bytes per second
      --merge <dir>            Merge an already downloaded directory and exit
      --no-progress            Disable TUI progress
  -v, --verbose                Verbose output
      --version                Show version

Examples:
  relive https://example.com/live.mpd
  relive -p 20 -o mystream https://example.com/live.mpd
  relive --merge mystream
`)
}

func run(ctx context.Context, cfg *config.Config) error {
	lg := logger.New(cfg.Verbose)

	if cfg.MergeDir != "" {
		out, err := engine.Merge(ctx, cfg.MergeDir, &engine.LogSink{Logger: lg, Name: "merge"})
		if err != nil {
			return err
		}
		lg.Info("merged", "output", out)
		return nil
	}

	var client *http.Client
	if cfg.MaxBandwidth > 0 {
		client = httpclient.NewWithRateLimit(cfg.MaxBandwidth)
	} else {
		client = httpclient.New()
	}

	manifest, err := parser.FetchMpd(ctx, client, cfg.MpdURL)
	if err != nil {
		return err
	}
	video, audio, err := manifest.BestMedia()
	if err != nil {
		return err
	}

	base, err := url.Parse(cfg.MpdURL)
	if err != nil {
		return fmt.Errorf("parse manifest URL: %w", err)
	}

	dir := cfg.OutputDir
	if dir == "" {
		dir = "live-" + manifest.ID
		if manifest.ID == "" {
			dir = "live-session"
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	st := state.New()

	session := func(ctx context.Context, liveSink, videoSink, audioSink engine.ProgressSink) error {
		reps := []*models.Representation{video, audio}

		// Prime pass: the backward search needs at least one downloaded
		// segment per media type to anchor on.
		if err := engine.DownloadTimelines(ctx, st, client, base, reps, dir, liveSink); err != nil {
			return err
		}

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return engine.DownloadLive(ctx, st, client, cfg.MpdURL, base, dir, liveSink)
		})
		if !cfg.LiveOnly {
			g.Go(func() error {
				backfill := []engine.RepSink{
					{Rep: video, Sink: videoSink},
					{Rep: audio, Sink: audioSink},
				}
				return engine.DownloadBackwards(ctx, st, client, base, backfill, manifest.StartFrame, dir, cfg.ParallelCandidates)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		if cfg.NoMerge {
			return nil
		}
		_, err := engine.Merge(ctx, dir, liveSink)
		return err
	}

	if cfg.NoProgress {
		mk := func(name string) engine.ProgressSink {
			return &engine.LogSink{Logger: lg, Name: name}
		}
		if err := session(ctx, mk("live"), mk("video"), mk("audio")); err != nil {
			return err
		}
		lg.Info("saved session", "dir", dir)
		return nil
	}

	// Run with TUI
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := tui.NewModel(manifest.ID, cfg.MpdURL, []string{"live", "video", "audio"})
	model.Cancel = cancel
	p := tea.NewProgram(model)

	var sessionErr error
	go func() {
		err := session(ctx, tui.NewSink(p, "live"), tui.NewSink(p, "video"), tui.NewSink(p, "audio"))
		if err != nil && !errors.Is(err, context.Canceled) {
			sessionErr = err
			p.Send(tui.ErrorMsg{Err: err})
			return
		}
		p.Send(tui.DoneMsg{})
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	cancel()

	if sessionErr != nil {
		return sessionErr
	}
	fmt.Printf("\n✓ Saved to: %s\n", dir)
	return nil
}
