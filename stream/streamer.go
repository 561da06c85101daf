package stream

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"

	"github.com/tidewater-io/tidewater/store"
)

const (
	initialBufSize = 64 * 1024
	// maxLineSize bounds memory to one line; longer lines fail the blob.
	maxLineSize = 16 * 1024 * 1024
)

// Event is one log line with its provenance metadata.
type Event struct {
	Message  string
	Metadata Metadata
}

// Metadata identifies where an event line came from.
type Metadata struct {
	BlobName       string
	Container      string
	StorageAccount string
	LineNumber     int64
	LastModified   string
}

// Result reports how streaming one blob ended. Completed is false only when
// the cancellation predicate fired mid-blob.
type Result struct {
	EventCount int64
	Completed  bool
}

// Streamer turns a blob's byte stream into line events. It never holds more
// than one line in memory and polls the cancellation predicate between lines.
type Streamer struct {
	storageAccount string
	container      string
	skipEmptyLines bool
	decompressGzip bool
}

// NewStreamer creates a Streamer that stamps events with the given storage
// account and container names.
func NewStreamer(storageAccount, container string, skipEmptyLines, decompressGzip bool) *Streamer {
	return &Streamer{
		storageAccount: storageAccount,
		container:      container,
		skipEmptyLines: skipEmptyLines,
		decompressGzip: decompressGzip,
	}
}

// Stream reads r line by line and calls emit for each event. Line numbers
// are 1-based and contiguous over the emitted events. Byte decoding is UTF-8
// with malformed sequences replaced, never rejected. I/O errors from r
// propagate.
func (s *Streamer) Stream(r io.Reader, info store.BlobInfo, emit func(Event), stopped func() bool) (Result, error) {
	if s.decompressGzip && strings.HasSuffix(info.Name, ".gz") {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return Result{}, fmt.Errorf("gzip reader for %s: %w", info.Name, err)
		}
		defer gz.Close()
		r = gz
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, initialBufSize), maxLineSize)
	scanner.Split(scanLines)

	lastModified := info.LastModified.UTC().Format(time.RFC3339)

	var lineNumber int64
	for scanner.Scan() {
		if stopped() {
			log.Debug().Str("blob", info.Name).Int64("events", lineNumber).Msg("Stop requested mid-blob")
			return Result{EventCount: lineNumber, Completed: false}, nil
		}
		line := scanner.Text()
		if s.skipEmptyLines && line == "" {
			continue
		}
		lineNumber++

		emit(Event{
			Message: strings.ToValidUTF8(line, "�"),
			Metadata: Metadata{
				BlobName:       info.Name,
				Container:      s.container,
				StorageAccount: s.storageAccount,
				LineNumber:     lineNumber,
				LastModified:   lastModified,
			},
		})
	}
	if err := scanner.Err(); err != nil {
		return Result{EventCount: lineNumber}, fmt.Errorf("read %s: %w", info.Name, err)
	}

	log.Debug().Str("blob", info.Name).Int64("events", lineNumber).Msg("Completed streaming blob")
	return Result{EventCount: lineNumber, Completed: true}, nil
}

// scanLines splits on LF, CR, or CRLF with the delimiter stripped. The split
// result does not depend on how the input arrives in chunks.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i := 0; i < len(data); i++ {
		switch data[i] {
		case '\n':
			return i + 1, data[:i], nil
		case '\r':
			if i+1 < len(data) {
				if data[i+1] == '\n' {
					return i + 2, data[:i], nil
				}
				return i + 1, data[:i], nil
			}
			if atEOF {
				return i + 1, data[:i], nil
			}
			// Need one more byte to distinguish CR from CRLF.
			return 0, nil, nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
