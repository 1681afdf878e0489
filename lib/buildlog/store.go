// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

// Package buildlog captures per-command output from pipeline runs
// into a local directory tree.
//
// Layout: <root>/<run>/<entry>/<stage>-<index>.log, with a .lz4 or
// .zst suffix when the file is compressed. Every write records the
// uncompressed size and BLAKE3 digest in the returned LogRef; reads
// decompress and verify both.
//
// The store is a best-effort side channel: the engine treats write
// failures as warnings and runs on without capture.
package buildlog

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/gantry-ci/gantry/lib/schema"
)

// Config holds the parameters for opening a build-log store.
type Config struct {
	// Dir is the root directory for captured logs. Created if it does
	// not exist. Required.
	Dir string

	// Compression names the on-disk encoding: "none", "lz4", or
	// "zstd". Empty selects zstd. Incompressible output falls back to
	// plain storage per file regardless of this setting.
	Compression string

	// Logger receives operational messages. Defaults to discarding
	// them.
	Logger *slog.Logger
}

// Store writes and reads captured command output under a root
// directory.
type Store struct {
	root        string
	compression CompressionTag
	logger      *slog.Logger
}

// Open creates the root directory if needed and returns a store.
func Open(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("build log store: Dir is required")
	}

	tag := CompressionZstd
	if cfg.Compression != "" {
		parsed, err := ParseCompressionTag(cfg.Compression)
		if err != nil {
			return nil, fmt.Errorf("build log store: %w", err)
		}
		tag = parsed
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("build log store: %w", err)
	}

	return &Store{root: cfg.Dir, compression: tag, logger: logger}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.root
}

// Coordinates locates one command's log within the store tree.
type Coordinates struct {
	// Run is the run identifier; one directory per pipeline
	// execution. See NewRunID.
	Run string

	// Entry is the matrix entry's display name. Sanitized before use
	// as a path component.
	Entry string

	// Stage is the stage the command belongs to.
	Stage schema.StageName

	// Index is the command's zero-based position within the stage.
	Index int
}

// Write stores one command's combined output and returns a reference
// recording its location, size, digest, and encoding. The file lands
// via temp-and-rename, so a crash mid-write leaves no truncated log
// behind.
func (s *Store) Write(coords Coordinates, output []byte) (*schema.LogRef, error) {
	digest := blake3.Sum256(output)

	data := output
	tag := s.compression
	if tag != CompressionNone {
		compressed, err := Compress(output, tag)
		switch {
		case IsIncompressible(err):
			tag = CompressionNone
		case err != nil:
			return nil, fmt.Errorf("build log store: %w", err)
		default:
			data = compressed
		}
	}

	relativePath := filepath.Join(
		sanitizeComponent(coords.Run),
		sanitizeComponent(coords.Entry),
		fmt.Sprintf("%s-%d.log%s", coords.Stage, coords.Index, tag.extension()),
	)

	if err := s.writeFileAtomic(filepath.Join(s.root, relativePath), data); err != nil {
		return nil, fmt.Errorf("build log store: %w", err)
	}

	s.logger.Debug("command output captured",
		"path", relativePath,
		"size", len(output),
		"compression", tag.String(),
	)

	return &schema.LogRef{
		Path:        filepath.ToSlash(relativePath),
		Digest:      hex.EncodeToString(digest[:]),
		SizeBytes:   int64(len(output)),
		Compression: tag.String(),
	}, nil
}

// Read loads a captured log back into memory, decompressing and
// verifying size and digest against the reference.
func (s *Store) Read(ref schema.LogRef) ([]byte, error) {
	tag := CompressionNone
	if ref.Compression != "" {
		parsed, err := ParseCompressionTag(ref.Compression)
		if err != nil {
			return nil, fmt.Errorf("build log store: %w", err)
		}
		tag = parsed
	}

	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(ref.Path)))
	if err != nil {
		return nil, fmt.Errorf("build log store: %w", err)
	}

	output, err := Decompress(data, tag, int(ref.SizeBytes))
	if err != nil {
		return nil, fmt.Errorf("build log store: %s: %w", ref.Path, err)
	}

	if ref.Digest != "" {
		digest := blake3.Sum256(output)
		if hex.EncodeToString(digest[:]) != ref.Digest {
			return nil, fmt.Errorf("build log store: %s: digest mismatch", ref.Path)
		}
	}

	return output, nil
}

func (s *Store) writeFileAtomic(finalPath string, data []byte) error {
	directory := filepath.Dir(finalPath)
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(directory, ".log-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return err
	}

	success = true
	return nil
}

// NewRunID returns a fresh run directory name: a UTC timestamp plus a
// random suffix so parallel runs in the same second stay separate.
func NewRunID(now time.Time) string {
	var suffix [4]byte
	rand.Read(suffix[:])
	return now.UTC().Format("20060102T150405Z") + "-" + hex.EncodeToString(suffix[:])
}

// sanitizeComponent makes a run or entry name safe as a single path
// component. Matrix entry names can contain slashes and variable
// assignments ("3.8/TOXENV=lint").
func sanitizeComponent(name string) string {
	var builder strings.Builder
	builder.Grow(len(name))
	for _, character := range name {
		switch {
		case character >= 'a' && character <= 'z',
			character >= 'A' && character <= 'Z',
			character >= '0' && character <= '9',
			character == '.', character == '-', character == '_':
			builder.WriteRune(character)
		default:
			builder.WriteRune('-')
		}
	}
	sanitized := builder.String()
	// Names that reduce to nothing or to dot traversal get a
	// placeholder.
	if strings.Trim(sanitized, ".") == "" {
		return "_"
	}
	return sanitized
}
