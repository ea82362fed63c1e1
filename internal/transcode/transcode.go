package transcode

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/voicebridge/audiohook-gateway/internal/audio"
)

// Result is the outcome of one RAW to WAV conversion: either the path of
// the produced container or the reason the conversion was rejected.
type Result struct {
	Path string
	Err  error
}

// Converter performs a single RAW to WAV conversion.
type Converter interface {
	Convert(ctx context.Context, inputPath, outputPath string) error
}

// InProcess converts captures without leaving the process, using the
// container codec directly.
type InProcess struct {
	SampleRate int
	DecodePCM  bool // expand u-law to 16-bit PCM instead of pass-through
}

// Convert reads the raw capture and writes the container in one step.
func (c *InProcess) Convert(_ context.Context, inputPath, outputPath string) error {
	raw, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("failed to read capture %s: %w", inputPath, err)
	}

	sampleRate := c.SampleRate
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}

	var container []byte
	if c.DecodePCM {
		container, err = audio.EncodePCMWAV(raw, sampleRate)
	} else {
		container, err = audio.EncodeULawWAV(raw, sampleRate)
	}
	if err != nil {
		return fmt.Errorf("failed to build container for %s: %w", inputPath, err)
	}

	if err := os.WriteFile(outputPath, container, 0644); err != nil {
		return fmt.Errorf("failed to write container %s: %w", outputPath, err)
	}

	return nil
}

// External shells out to a conversion tool. The command is invoked as
// command[0] command[1:]... inputPath outputPath; a non-zero exit is a
// rejected conversion with the captured stderr in the error.
type External struct {
	Command []string
	Timeout time.Duration
}

// Convert runs the external tool and waits for it to exit.
func (c *External) Convert(ctx context.Context, inputPath, outputPath string) error {
	if len(c.Command) == 0 {
		return fmt.Errorf("external converter command not configured")
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	args := append(append([]string{}, c.Command[1:]...), inputPath, outputPath)
	cmd := exec.CommandContext(ctx, c.Command[0], args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("converter %s failed: %w (stderr: %s)",
			c.Command[0], err, stderr.String())
	}

	return nil
}

// Runner dispatches conversions asynchronously with bounded concurrency so
// slow conversions never starve frame dispatch.
type Runner struct {
	converter Converter
	logger    *slog.Logger
	semaphore chan struct{}
}

// NewRunner creates a runner around a converter. maxConcurrent bounds the
// number of conversions in flight; values below 1 default to 1.
func NewRunner(converter Converter, logger *slog.Logger, maxConcurrent int) *Runner {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	return &Runner{
		converter: converter,
		logger:    logger,
		semaphore: make(chan struct{}, maxConcurrent),
	}
}

// ConvertAsync starts a conversion and returns a channel that delivers the
// single Result. The caller is never blocked; awaiting the channel is
// optional.
func (r *Runner) ConvertAsync(inputPath, outputPath string) <-chan Result {
	done := make(chan Result, 1)

	go func() {
		r.semaphore <- struct{}{}
		defer func() { <-r.semaphore }()

		start := time.Now()
		err := r.converter.Convert(context.Background(), inputPath, outputPath)
		elapsed := time.Since(start)

		if err != nil {
			r.logger.Error("Conversion failed",
				slog.String("input", inputPath),
				slog.String("output", outputPath),
				slog.String("error", err.Error()),
				slog.Duration("elapsed", elapsed),
			)
			done <- Result{Err: err}
			return
		}

		r.logger.Info("Conversion completed",
			slog.String("input", inputPath),
			slog.String("output", outputPath),
			slog.Duration("elapsed", elapsed),
		)
		done <- Result{Path: outputPath}
	}()

	return done
}
