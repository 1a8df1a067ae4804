// Package source feeds NDJSON operation streams into the engine queue.
//
// Supported inputs:
//   - "-" or "": standard input
//   - s3://bucket/key: an object in S3 or an S3-compatible store
//   - file://path or a plain path: a local file
package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// MaxLineSize bounds a single NDJSON message.
const MaxLineSize = 16 << 20

// Sink receives raw messages. *engine.Queue implements it.
//
// Enqueue may block while the sink is full; it must return when ctx ends.
type Sink interface {
	Enqueue(ctx context.Context, msg []byte) error
	Close()
}

// Open returns a reader for input. The caller must close it.
func Open(ctx context.Context, input string, s3cfg S3Options) (io.ReadCloser, error) {
	switch {
	case input == "" || input == "-":
		return io.NopCloser(os.Stdin), nil
	case strings.HasPrefix(strings.ToLower(input), "s3://"):
		return openS3(ctx, input, s3cfg)
	default:
		path := strings.TrimPrefix(input, "file://")
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open input: %w", err)
		}
		return f, nil
	}
}

// Feed enqueues every non-blank line of r into sink and closes sink when r
// is exhausted, ctx is cancelled or reading fails. It returns the number of
// messages enqueued.
//
// No line is read while sink is full, so a stalled consumer holds back the
// reader instead of buffering the input in memory.
func Feed(ctx context.Context, r io.Reader, sink Sink) (int, error) {
	defer sink.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)

	n := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return n, err
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		// Scanner reuses its buffer.
		msg := make([]byte, len(line))
		copy(msg, line)

		if err := sink.Enqueue(ctx, msg); err != nil {
			return n, err
		}
		n++
	}

	if err := scanner.Err(); err != nil {
		return n, fmt.Errorf("failed to read input: %w", err)
	}

	slog.Debug("input exhausted", "messages", n)
	return n, nil
}
