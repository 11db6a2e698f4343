// Package transfer moves file bytes between the local disk and a
// transport, one fixed-size chunk at a time.
package transfer

import (
	"fmt"
	"os"

	"wbh-go/internal/wbh"
)

// Options configures an Engine.
type Options struct {
	// ChunkSize is the number of plaintext bytes per chunk.
	ChunkSize int64
	// TempDir holds chunk temp files while they are in flight.
	TempDir string
	// MaxRetry bounds the attempts made to fetch one chunk.
	MaxRetry int
}

// Engine uploads and downloads chunked files through a transport.
type Engine struct {
	transport wbh.Transport
	clock     wbh.Clock
	logger    wbh.Logger
	chunkSize int64
	tempDir   string
	maxRetry  int
}

// NewEngine creates an Engine. The temp dir is created if missing.
func NewEngine(transport wbh.Transport, opts Options, clock wbh.Clock, logger wbh.Logger) (*Engine, error) {
	if opts.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", opts.ChunkSize)
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if err := os.MkdirAll(opts.TempDir, 0700); err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	if opts.MaxRetry < 1 {
		opts.MaxRetry = 1
	}
	if clock == nil {
		clock = wbh.RealClock{}
	}
	if logger == nil {
		logger = wbh.NewNopLogger()
	}
	return &Engine{
		transport: transport,
		clock:     clock,
		logger:    logger,
		chunkSize: opts.ChunkSize,
		tempDir:   opts.TempDir,
		maxRetry:  opts.MaxRetry,
	}, nil
}

// ChunkSize returns the plaintext chunk size.
func (e *Engine) ChunkSize() int64 { return e.chunkSize }

// Transport returns the transport the engine talks to.
func (e *Engine) Transport() wbh.Transport { return e.transport }
