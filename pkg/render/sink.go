package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/wafkaw/book-digger/internal/storage"
	"github.com/wafkaw/book-digger/internal/util"
	"github.com/wafkaw/book-digger/pkg/logger"
)

// ErrUnsafePath is returned for a document path that would escape the vault.
var ErrUnsafePath = errors.New("render: unsafe document path")

// Sink persists rendered documents.
type Sink interface {
	Write(ctx context.Context, docs []Document) error
}

func checkPath(p string) error {
	clean := path.Clean(p)
	if p == "" || path.IsAbs(p) || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("%w: %q", ErrUnsafePath, p)
	}
	return nil
}

// WriteDir writes docs below dir, creating folders as needed.
func WriteDir(dir string, docs []Document) error {
	for _, d := range docs {
		if err := checkPath(d.Path); err != nil {
			return err
		}
		target := filepath.Join(dir, filepath.FromSlash(d.Path))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("failed to create folder for %s: %w", d.Path, err)
		}
		if err := os.WriteFile(target, []byte(d.Content), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", d.Path, err)
		}
	}
	logger.Info("[Render] Wrote vault", "dir", dir, "documents", len(docs))
	return nil
}

// DirSink writes to a local folder.
type DirSink struct {
	Dir string
}

func (s DirSink) Write(_ context.Context, docs []Document) error {
	return WriteDir(s.Dir, docs)
}

const uploadAttempts = 3

// S3Sink uploads documents below Prefix in Bucket. Each upload is retried
// with backoff.
type S3Sink struct {
	Client   storage.API
	Bucket   string
	Prefix   string
	Parallel int
	// Replace removes objects below Prefix that the upload did not write.
	Replace bool
	Backoff util.Backoff
}

// Key returns the object key for a document path.
func (s S3Sink) Key(docPath string) string {
	if s.Prefix == "" {
		return docPath
	}
	return path.Join(s.Prefix, docPath)
}

func (s S3Sink) Write(ctx context.Context, docs []Document) error {
	for _, d := range docs {
		if err := checkPath(d.Path); err != nil {
			return err
		}
	}

	parallel := s.Parallel
	if parallel <= 0 {
		parallel = 8
	}
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(parallel)
	for _, d := range docs {
		eg.Go(func() error {
			_, err := util.RetryWithBackoff(gctx, uploadAttempts, s.Backoff, func(ctx context.Context) (struct{}, error) {
				return struct{}{}, storage.PutFile(ctx, s.Client, s.Bucket, s.Key(d.Path), []byte(d.Content))
			})
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	if s.Replace && s.Prefix != "" {
		if err := s.prune(ctx, docs); err != nil {
			return err
		}
	}

	logger.Info("[Render] Uploaded vault", "bucket", s.Bucket, "prefix", s.Prefix, "documents", len(docs))
	return nil
}

// prune deletes stale objects after a successful upload so a failed run
// leaves the previous vault in place.
func (s S3Sink) prune(ctx context.Context, docs []Document) error {
	keys, err := storage.ListFilesWithPrefix(ctx, s.Client, s.Bucket, strings.TrimSuffix(s.Prefix, "/")+"/")
	if err != nil {
		return err
	}
	written := make(map[string]struct{}, len(docs))
	for _, d := range docs {
		written[s.Key(d.Path)] = struct{}{}
	}
	var stale []string
	for _, k := range keys {
		if _, ok := written[k]; !ok {
			stale = append(stale, k)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	logger.Debug("[Render] Removing stale objects", "bucket", s.Bucket, "prefix", s.Prefix, "count", len(stale))
	return storage.DeleteFiles(ctx, s.Client, s.Bucket, stale)
}
