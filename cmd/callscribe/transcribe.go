package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/callscribe/internal/app"
	"github.com/MrWong99/callscribe/internal/asr"
	"github.com/MrWong99/callscribe/internal/config"
	"github.com/MrWong99/callscribe/pkg/audio"
	"github.com/MrWong99/callscribe/pkg/audio/codec"
)

type transcribeOptions struct {
	frameMs int
	rate    int
	timeout time.Duration
}

func newTranscribeCmd() *cobra.Command {
	var opts transcribeOptions
	cmd := &cobra.Command{
		Use:   "transcribe FILE.wav...",
		Short: "Run WAV files through the pipeline and print the transcripts",
		Long: `transcribe feeds 16-bit PCM WAV files through the same VAD segmentation and
transcription pipeline the server uses, printing one line per recognised
utterance. Multi-channel input is downmixed to mono.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			return runTranscribe(cmd.Context(), cmd.OutOrStdout(), path, args, opts)
		},
	}
	cmd.Flags().IntVar(&opts.frameMs, "frame-ms", 20, "frame length fed to the pipeline in milliseconds")
	cmd.Flags().IntVar(&opts.rate, "rate", 0, "resample to this rate before feeding (0 keeps the file's rate)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 5*time.Minute, "upper bound for transcribing one file")
	return cmd
}

func runTranscribe(parent context.Context, out io.Writer, configPath string, files []string, opts transcribeOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	if opts.frameMs <= 0 {
		return fmt.Errorf("--frame-ms must be positive, got %d", opts.frameMs)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := newLogger(os.Stderr, cfg.Server.LogFormat, &level)
	slog.SetDefault(logger)

	providers, err := buildProviders(cfg, logger)
	if err != nil {
		return err
	}
	pc := app.ProcessConfig(cfg)
	proc, err := asr.NewProcess(pc, providers.STT, providers.VAD,
		asr.WithLogger(logger),
		asr.WithEncoder(providers.Encoder),
	)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := proc.Shutdown(ctx); err != nil {
			logger.Warn("pipeline shutdown", "err", err)
		}
	}()

	for _, name := range files {
		ctx, cancel := context.WithTimeout(parent, opts.timeout)
		err := transcribeFile(ctx, out, proc, pc, name, opts)
		cancel()
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// transcribeFile feeds one file and prints its transcripts as they arrive.
func transcribeFile(ctx context.Context, out io.Writer, proc *asr.Process, pc asr.Config, name string, opts transcribeOptions) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	info, pcm, err := codec.ReadWAV(f)
	f.Close()
	if err != nil {
		return err
	}
	pcm = audio.Downmix(pcm, info.Channels)
	rate := info.SampleRate
	if opts.rate > 0 && opts.rate != rate {
		pcm = audio.Resample(pcm, rate, opts.rate)
		rate = opts.rate
	}

	s, err := proc.Open(asr.CodecL16, rate)
	if err != nil {
		return err
	}
	defer s.Close()

	frameLen := audio.FrameBytes(rate, opts.frameMs)
	// Trailing silence lets the detector end a segment that runs to the end
	// of the file.
	silenceMs := pc.VAD.SilenceMs
	if silenceMs <= 0 {
		silenceMs = 500
	}
	pcm = append(pcm, make([]byte, audio.FrameBytes(rate, silenceMs+4*opts.frameMs))...)

	// The worker drains the audio queue once per tick; yield every half
	// queue so a file fed faster than real time does not overrun it.
	yieldEvery := max(pc.QueueSize/2, 1)
	for i, off := 0, 0; off < len(pcm); i, off = i+1, off+frameLen {
		end := min(off+frameLen, len(pcm))
		if err := s.Feed(pcm[off:end]); err != nil {
			return err
		}
		if i%yieldEvery == yieldEvery-1 {
			time.Sleep(2 * pc.PollInterval)
		}
		printResults(out, s)
	}

	// Wait until every started utterance has an outcome and no flush is
	// still pending.
	settle := 2*pc.SentenceThreshold + 10*pc.PollInterval
	ticker := time.NewTicker(pc.PollInterval)
	defer ticker.Stop()
	lastChange := time.Now()
	var last asr.Stats
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		printResults(out, s)
		st := s.Stats()
		if st.Utterances != last.Utterances || st.Results != last.Results || st.Failures != last.Failures {
			last = st
			lastChange = time.Now()
			continue
		}
		if st.Utterances == st.Results+st.Failures && time.Since(lastChange) >= settle {
			break
		}
	}
	printResults(out, s)
	if s.Stats().ChunksDropped > 0 {
		return errors.New("audio was dropped; try a larger pipeline.queue_size")
	}
	return nil
}

func printResults(out io.Writer, s *asr.Session) {
	for s.CheckResults() {
		text, ok := s.GetResult()
		if !ok {
			return
		}
		fmt.Fprintln(out, text)
	}
}
