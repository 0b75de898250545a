package cache

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/wafkaw/book-digger/pkg/common"
	"github.com/wafkaw/book-digger/pkg/logger"
)

const maxLineBytes = 4 << 20

// File is a Store persisted as an append-only JSON-lines file, one Entry per
// line. The file is loaded into memory on open. A missing or empty file is an
// empty cache and unreadable lines are skipped.
type File struct {
	mu      sync.RWMutex
	path    string
	entries map[common.Fingerprint]common.ExtractionResult
	w       *os.File
}

// OpenFile loads the cache at path, creating the file and its directory
// when missing.
func OpenFile(path string) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	c := &File{
		path:    path,
		entries: make(map[common.Fingerprint]common.ExtractionResult),
	}
	needsNewline, err := c.load()
	if err != nil {
		return nil, err
	}

	w, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open cache file: %w", err)
	}
	if needsNewline {
		// terminate a truncated trailing line so the next append starts clean
		if _, err := w.Write([]byte{'\n'}); err != nil {
			w.Close()
			return nil, fmt.Errorf("repair cache file: %w", err)
		}
	}
	c.w = w
	return c, nil
}

// load reads every intact entry and reports whether the file ends without a
// trailing newline.
func (c *File) load() (bool, error) {
	f, err := os.Open(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("open cache file: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReaderSize(f, 64*1024)
	lineNo := 0
	skipped := 0
	endsWithNewline := true
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			lineNo++
			endsWithNewline = line[len(line)-1] == '\n'
			if !c.loadLine(line) {
				skipped++
				logger.Warn("[Cache] Skipping unreadable cache line", "path", c.path, "line", lineNo)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return false, fmt.Errorf("read cache file: %w", err)
		}
	}

	logger.Debug("[Cache] Loaded file cache", "path", c.path, "entries", len(c.entries), "skipped", skipped)
	return !endsWithNewline, nil
}

func (c *File) loadLine(line []byte) bool {
	if len(line) > maxLineBytes {
		return false
	}
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return true
	}
	var e Entry
	if err := json.Unmarshal(trimmed, &e); err != nil {
		return false
	}
	if e.Fingerprint == "" {
		return false
	}
	if _, ok := c.entries[e.Fingerprint]; !ok {
		c.entries[e.Fingerprint] = e.Result
	}
	return true
}

func (c *File) Lookup(
	ctx context.Context,
	fp common.Fingerprint,
) (common.ExtractionResult, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.w == nil {
		return common.ExtractionResult{}, false, ErrClosed
	}
	r, ok := c.entries[fp]
	if !ok {
		return common.ExtractionResult{}, false, nil
	}
	return r.Clone(), true, nil
}

func (c *File) Store(
	ctx context.Context,
	fp common.Fingerprint,
	result common.ExtractionResult,
) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.w == nil {
		return ErrClosed
	}
	if _, ok := c.entries[fp]; ok {
		return nil
	}

	line, err := json.Marshal(newEntry(fp, result))
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	line = append(line, '\n')
	if _, err := c.w.Write(line); err != nil {
		return fmt.Errorf("append cache entry: %w", err)
	}
	c.entries[fp] = result.Clone()
	return nil
}

// Len returns the number of loaded and stored entries.
func (c *File) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *File) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.w == nil {
		return nil
	}
	err := c.w.Close()
	c.w = nil
	return err
}
