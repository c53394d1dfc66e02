package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/loqalabs/open-transcribe/internal/audio"
	"github.com/loqalabs/open-transcribe/internal/capture"
	"github.com/loqalabs/open-transcribe/internal/client"
	"github.com/loqalabs/open-transcribe/internal/discovery"
)

var version = "0.1.0-dev"

const usage = `usage: transcribe <command> [flags]

commands:
  file <path>    transcribe a WAV or raw PCM file
  record         record from the microphone and transcribe
  health         check that the server is up
  discover       list servers advertised on the local network
  version        print the version

examples:
  transcribe file my_audio.wav
  transcribe record -duration 10
  transcribe record -duration 15 -sample-rate 44100 -channels 2 -bit-depth 24
  transcribe file audio.pcm -server-url http://my-server:8080
  transcribe discover -timeout 5s
`

type options struct {
	serverURL  string
	sampleRate int
	channels   int
	bitDepth   int
	duration   time.Duration
	captureCmd string
	verbose    bool
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "file":
		err = runFile(ctx, os.Args[2:])
	case "record":
		err = runRecord(ctx, os.Args[2:])
	case "health":
		err = runHealth(ctx, os.Args[2:])
	case "discover":
		err = runDiscover(ctx, os.Args[2:])
	case "version":
		fmt.Println(version)
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newFlagSet(name string, opts *options) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.StringVar(&opts.serverURL, "server-url", "http://localhost:8080", "Server URL")
	fs.IntVar(&opts.sampleRate, "sample-rate", 16000, "Audio sample rate in Hz")
	fs.IntVar(&opts.channels, "channels", 1, "Number of audio channels")
	fs.IntVar(&opts.bitDepth, "bit-depth", 16, "Audio bit depth (16, 24, or 32)")
	fs.BoolVar(&opts.verbose, "v", false, "Verbose logging")
	return fs
}

func (o options) validate() error {
	if _, err := audio.ParseBitDepth(o.bitDepth); err != nil {
		return errors.New("Bit depth must be 16, 24, or 32")
	}
	if o.sampleRate <= 0 {
		return errors.New("sample rate must be positive")
	}
	if o.channels <= 0 {
		return errors.New("channels must be at least 1")
	}
	return nil
}

func (o options) logger() *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func (o options) format() client.Format {
	return client.Format{SampleRate: o.sampleRate, Channels: o.channels, BitDepth: o.bitDepth}
}

func runHealth(ctx context.Context, args []string) error {
	var opts options
	fs := newFlagSet("health", &opts)
	_ = fs.Parse(args)

	h, err := client.New(opts.serverURL, nil).Health(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("server is healthy: %s (engine %s, queue depth %d)\n", h.Message, h.Engine, h.QueueDepth)
	return nil
}

func runDiscover(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("discover", flag.ExitOnError)
	timeout := fs.Duration("timeout", 3*time.Second, "How long to listen for advertisements")
	service := fs.String("service", "_open-transcribe._tcp", "mDNS service type")
	domain := fs.String("domain", "local.", "mDNS domain")
	_ = fs.Parse(args)

	services, err := discovery.Browse(ctx, *service, *domain, *timeout)
	if err != nil {
		return err
	}
	if len(services) == 0 {
		fmt.Println("no servers found")
		return nil
	}
	for _, svc := range services {
		fmt.Printf("%s\t%s\tengine=%s language=%s\n", svc.Instance, svc.URL(), svc.Fields["engine"], svc.Fields["language"])
	}
	return nil
}

func runFile(ctx context.Context, args []string) error {
	var opts options
	fs := newFlagSet("file", &opts)
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("file: expected exactly one audio file path")
	}
	if err := opts.validate(); err != nil {
		return err
	}
	path := fs.Arg(0)
	log := opts.logger()

	c := client.New(opts.serverURL, nil)
	if err := checkServer(ctx, c); err != nil {
		return err
	}

	data, format, err := client.LoadAudioFile(path, opts.format())
	if err != nil {
		return err
	}
	log.Info("loaded audio file", slog.String("path", path), slog.Int("bytes", len(data)),
		slog.Int("sample_rate", format.SampleRate), slog.Int("channels", format.Channels), slog.Int("bit_depth", format.BitDepth))

	return transcribe(ctx, c, data, format, filepath.Base(path), log)
}

func runRecord(ctx context.Context, args []string) error {
	var opts options
	fs := newFlagSet("record", &opts)
	fs.DurationVar(&opts.duration, "duration", 5*time.Second, "Recording duration")
	fs.StringVar(&opts.captureCmd, "capture-cmd", capture.DefaultCommand, "Capture command writing f32le PCM to stdout")
	_ = fs.Parse(args)
	if err := opts.validate(); err != nil {
		return err
	}
	if opts.duration <= 0 {
		return errors.New("duration must be positive")
	}
	log := opts.logger()

	c := client.New(opts.serverURL, nil)
	if err := checkServer(ctx, c); err != nil {
		return err
	}

	fmt.Printf("recording %s at %d Hz, %d channel(s), %d-bit\n", opts.duration, opts.sampleRate, opts.channels, opts.bitDepth)
	recorder := capture.Recorder{Command: opts.captureCmd, SampleRate: opts.sampleRate, Channels: opts.channels}
	samples, err := recorder.Record(ctx, opts.duration)
	if err != nil {
		return err
	}
	fmt.Printf("recorded %d samples\n", len(samples))

	data, err := audio.Encode(samples, audio.BitDepth(opts.bitDepth))
	if err != nil {
		return err
	}
	return transcribe(ctx, c, data, opts.format(), "recording.pcm", log)
}

func checkServer(ctx context.Context, c *client.Client) error {
	if _, err := c.Health(ctx); err != nil {
		return fmt.Errorf("%w (is the server running? start it with transcribed)", err)
	}
	return nil
}

func transcribe(ctx context.Context, c *client.Client, data []byte, format client.Format, name string, log *slog.Logger) error {
	start := time.Now()
	res, err := c.Transcribe(ctx, data, format, name)
	if err != nil {
		return fmt.Errorf("transcription failed: %w", err)
	}
	elapsed := time.Since(start)

	bytesPerFrame := format.BitDepth / 8 * format.Channels
	audioSeconds := float64(len(data)/bytesPerFrame) / float64(format.SampleRate)
	log.Info("transcription complete",
		slog.Duration("elapsed", elapsed),
		slog.Float64("audio_seconds", audioSeconds),
		slog.Float64("rtf", audioSeconds/elapsed.Seconds()),
	)

	return printJSON(os.Stdout, res.Raw)
}

func printJSON(w io.Writer, raw json.RawMessage) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
