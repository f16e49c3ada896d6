// Command chime plays or relays compressed audio streams.
//
//	chime play [-pcm] <file>   decode a local MP3/ADTS file
//	chime serve                SRT ingest to QUIC frame relay
package main

import (
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/chime/internal/decode"
	"github.com/zsiec/chime/internal/framing"
	"github.com/zsiec/chime/internal/ingest"
	srtingest "github.com/zsiec/chime/internal/ingest/srt"
	"github.com/zsiec/chime/internal/playback"
	"github.com/zsiec/chime/internal/player"
	"github.com/zsiec/chime/internal/relay"
)

var version = "dev"

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	var err error
	switch os.Args[1] {
	case "play":
		err = runPlay(ctx, os.Args[2:])
	case "serve":
		err = runServe(ctx, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: chime play [-pcm] <file> | chime serve [-pull addr [-pull-key key]]\n")
}

func runPlay(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("play", flag.ExitOnError)
	pcmOut := fs.Bool("pcm", false, "write raw s16le samples to stdout instead of the sound device")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("play: expected one input file")
	}

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("play: %w", err)
	}
	defer f.Close()

	var (
		sink    *playback.Sink
		sinkErr error
	)
	defer func() {
		if sink != nil {
			sink.Close()
		}
	}()

	emit := func(pcm decode.PCM) {
		if *pcmOut {
			os.Stdout.Write(pcm.Samples)
			return
		}
		if sink == nil && sinkErr == nil {
			sink, sinkErr = playback.NewSink(pcm.SampleRate, pcm.Channels, nil)
			if sinkErr != nil {
				slog.Error("playback unavailable", "error", sinkErr)
				return
			}
		}
		if sink != nil {
			if err := sink.Write(pcm); err != nil {
				slog.Error("playback write failed", "error", err)
			}
		}
	}

	var p *player.Player
	readBuf := make([]byte, 16*1024)
	fill := func() int {
		n, _ := f.Read(readBuf)
		if n <= 0 {
			return 0
		}
		pushed := 0
		for pushed < n {
			w, err := p.Push(readBuf[pushed:n])
			if err != nil {
				return 0
			}
			pushed += w
			if w == 0 {
				break
			}
		}
		return pushed
	}

	p = player.New(
		player.WithFill(fill),
		player.WithPCMHandler(emit),
	)
	defer p.Finish()

	if err := p.Run(ctx); err != nil {
		return fmt.Errorf("play: %w", err)
	}

	stats := p.Stats()
	slog.Info("playback finished",
		"type", p.AudioType().String(),
		"frames", stats.Frames,
		"bytes", stats.Bytes,
		"resyncs", stats.Resyncs)
	return nil
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	pullAddr := fs.String("pull", "", "also pull from a remote SRT listener at this address")
	pullKey := fs.String("pull-key", "pull", "stream key for the pulled stream")
	fs.Parse(args)

	srtAddr := envOr("SRT_ADDR", ":6000")
	quicAddr := envOr("QUIC_ADDR", ":4443")

	slog.Info("chime starting",
		"version", version,
		"srt", srtAddr,
		"quic", quicAddr)

	g, ctx := errgroup.WithContext(ctx)

	a := &app{relays: make(map[string]*relay.Relay)}

	// Registry created after the errgroup so session goroutines observe
	// the errgroup-derived context and end when any component fails.
	a.registry = ingest.NewRegistry(a.sessionFor, func(key string, session *player.Player) {
		if err := session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("session error", "stream", key, "error", err)
		}
		slog.Info("stream ended", "key", key)
		a.removeRelay(key)
	})

	srtSrv := srtingest.NewServer(srtAddr, a.registry, nil)
	relaySrv := relay.NewServer(quicAddr, a.getRelay, nil)

	g.Go(func() error { return srtSrv.Start(ctx) })
	g.Go(func() error { return relaySrv.Start(ctx) })

	if *pullAddr != "" {
		caller := srtingest.NewCaller(a.registry, nil)
		g.Go(func() error {
			if err := caller.Pull(ctx, srtingest.PullRequest{
				Address:   *pullAddr,
				StreamKey: *pullKey,
			}); err != nil {
				return err
			}
			<-ctx.Done()
			return ctx.Err()
		})
	}

	return g.Wait()
}

type app struct {
	registry *ingest.Registry

	mu     sync.Mutex
	relays map[string]*relay.Relay
}

// sessionFor builds the per-stream pipeline: a passthrough player whose
// located frames broadcast through a fresh relay hub.
func (a *app) sessionFor(key string) *player.Player {
	rl := relay.NewRelay(slog.With("stream", key))

	a.mu.Lock()
	a.relays[key] = rl
	a.mu.Unlock()

	return player.New(
		player.WithLogger(slog.With("stream", key)),
		player.WithFrameHandler(func(t framing.Type, frame []byte) {
			if rl.StreamInfo().Type == framing.TypeUnknown {
				rl.SetStreamInfo(streamInfoFromFrame(t, frame))
			}
			rl.Broadcast(t, frame)
		}),
	)
}

func (a *app) getRelay(key string) *relay.Relay {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.relays[key]
}

func (a *app) removeRelay(key string) {
	a.mu.Lock()
	delete(a.relays, key)
	a.mu.Unlock()
}

// streamInfoFromFrame derives the advertised stream parameters from the
// first confirmed frame's header.
func streamInfoFromFrame(t framing.Type, frame []byte) relay.StreamInfo {
	info := relay.StreamInfo{Type: t}
	switch t {
	case framing.TypeMP3:
		if len(frame) >= 4 {
			if hdr, err := framing.ParseHeader(binary.BigEndian.Uint32(frame)); err == nil {
				info.SampleRate = hdr.SampleRate
			}
		}
	case framing.TypeAAC:
		if adts, err := framing.ParseADTSInfo(frame); err == nil {
			info.SampleRate = adts.SampleRate
			info.Channels = adts.Channels
		}
	}
	return info
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
