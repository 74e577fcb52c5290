package service

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// PlaylistName is the fixed name of the HLS manifest inside a media item's
// output directory.
const PlaylistName = "output.m3u8"

// stderrTailLines bounds how much encoder output is retained for error
// reporting.
const stderrTailLines = 20

// Encoder converts one source file into an HLS playlist plus segments.
// Implementations block until the encode finishes, so they must only run on
// the consumer worker pool.
type Encoder interface {
	Transcode(ctx context.Context, sourcePath, outputDir string, onStderrLine func(line string)) (manifestPath string, err error)
}

// FFmpegEncoder shells out to ffmpeg (or any binary honoring its CLI, which
// is how tests substitute a stub).
type FFmpegEncoder struct {
	Command        string
	SegmentSeconds int
}

func NewFFmpegEncoder(command string, segmentSeconds int) *FFmpegEncoder {
	if command == "" {
		command = "ffmpeg"
	}
	if segmentSeconds <= 0 {
		segmentSeconds = 10
	}
	return &FFmpegEncoder{Command: command, SegmentSeconds: segmentSeconds}
}

// Transcode runs the encoder against sourcePath, writing the playlist and
// numbered segments into outputDir. The source is checked before the output
// directory is created, so a missing input leaves no trace on disk. Encoder
// stderr is streamed line by line into onStderrLine as it is produced.
func (e *FFmpegEncoder) Transcode(ctx context.Context, sourcePath, outputDir string, onStderrLine func(string)) (string, error) {
	if _, err := os.Stat(sourcePath); err != nil {
		return "", fmt.Errorf("%w: %s", ErrSourceMissing, sourcePath)
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	manifestPath := filepath.Join(outputDir, PlaylistName)

	// Argument order is part of the invocation contract; do not reorder.
	args := []string{
		"-i", sourcePath,
		"-preset", "fast",
		"-c:v", "libx264",
		"-c:a", "aac",
		"-f", "hls",
		"-start_number", "0",
		"-hls_time", strconv.Itoa(e.SegmentSeconds),
		"-hls_list_size", "0",
		manifestPath,
	}

	cmd := exec.CommandContext(ctx, e.Command, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("stderr pipe: %w", err)
	}

	zerolog.Ctx(ctx).Debug().Str("command", e.Command).Str("args", strings.Join(args, " ")).Msg("starting encoder")
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start encoder: %w", err)
	}

	// Reading the pipe to EOF is what drives progress visibility; the
	// scanner returns as soon as the process closes stderr.
	var tail []string
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		tail = append(tail, line)
		if len(tail) > stderrTailLines {
			tail = tail[1:]
		}
		if onStderrLine != nil {
			onStderrLine(line)
		}
	}

	// A scan error (an over-long line, a broken pipe) stops the read loop
	// while the process may still be writing; kill it so Wait cannot block
	// on a full pipe.
	scanErr := scanner.Err()
	if scanErr != nil {
		_ = cmd.Process.Kill()
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}
		if scanErr != nil {
			return "", fmt.Errorf("read encoder stderr: %w", scanErr)
		}
		return "", fmt.Errorf("%w: %v: %s", ErrEncodeFailed, err, strings.Join(tail, "\n"))
	}
	if scanErr != nil {
		return "", fmt.Errorf("read encoder stderr: %w", scanErr)
	}

	return manifestPath, nil
}

var _ Encoder = (*FFmpegEncoder)(nil)
