package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/hyperjump/recall/internal/embedding"
	"github.com/hyperjump/recall/internal/models"
	"github.com/hyperjump/recall/internal/storage"
)

// DefaultBatchSize is the number of messages embedded per encoder call.
const DefaultBatchSize = 32

// Loader embeds extracted messages and upserts them into a store.
type Loader struct {
	store      storage.Writer
	embedder   embedding.Embedder
	batchSize  int
	extensions []string
	logger     *zap.Logger

	mu   sync.Mutex
	seen map[string]fileStamp
}

type fileStamp struct {
	mtime time.Time
	size  int64
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLogger sets a logger for progress output.
func WithLogger(l *zap.Logger) LoaderOption {
	return func(ld *Loader) { ld.logger = l }
}

// WithBatchSize sets how many texts are embedded per call. Values below 1 keep the default.
func WithBatchSize(n int) LoaderOption {
	return func(ld *Loader) {
		if n > 0 {
			ld.batchSize = n
		}
	}
}

// WithExtensions restricts LoadFile and LoadDirectory to files with these extensions.
func WithExtensions(exts []string) LoaderOption {
	return func(ld *Loader) { ld.extensions = exts }
}

// NewLoader creates a loader writing to store.
func NewLoader(store storage.Writer, embedder embedding.Embedder, opts ...LoaderOption) *Loader {
	ld := &Loader{
		store:     store,
		embedder:  embedder,
		batchSize: DefaultBatchSize,
		logger:    zap.NewNop(),
		seen:      make(map[string]fileStamp),
	}
	for _, opt := range opts {
		opt(ld)
	}
	return ld
}

// Replace removes every stored message and forgets which files were loaded.
func (ld *Loader) Replace(ctx context.Context) error {
	if err := ld.store.DeleteAll(ctx); err != nil {
		return errors.Wrap(err, "delete existing messages")
	}
	ld.mu.Lock()
	ld.seen = make(map[string]fileStamp)
	ld.mu.Unlock()
	return nil
}

// LoadMessages embeds msgs in batches and upserts each batch. Every written embedding
// has exactly the embedder's dimension. It returns the number of messages written.
func (ld *Loader) LoadMessages(ctx context.Context, msgs []*models.Message) (int, error) {
	dims := ld.embedder.Dimensions()
	written := 0
	for start := 0; start < len(msgs); start += ld.batchSize {
		end := min(start+ld.batchSize, len(msgs))
		batch := msgs[start:end]

		texts := make([]string, len(batch))
		for i, m := range batch {
			texts[i] = m.Text
		}
		vecs, err := ld.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return written, errors.Wrapf(err, "embed messages %d-%d", start, end-1)
		}
		if len(vecs) != len(batch) {
			return written, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(batch))
		}
		for i, m := range batch {
			if len(vecs[i]) != dims {
				return written, fmt.Errorf("message %s: embedding has %d dimensions, expected %d", m.MessageID, len(vecs[i]), dims)
			}
			m.Embedding = vecs[i]
		}
		if err := ld.store.UpsertMessages(ctx, batch); err != nil {
			return written, errors.Wrapf(err, "upsert messages %d-%d", start, end-1)
		}
		written += len(batch)
		ld.logger.Debug("batch loaded", zap.Int("written", written), zap.Int("total", len(msgs)))
	}
	return written, nil
}

// LoadFile parses the export at path and loads its messages. A file already loaded with
// the same modification time and size is skipped and reports 0 messages.
func (ld *Loader) LoadFile(ctx context.Context, path string) (int, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return 0, errors.Wrap(err, "absolute path")
	}
	ext := strings.ToLower(filepath.Ext(absPath))
	if len(ld.extensions) > 0 && !extensionAllowed(ext, ld.extensions) {
		return 0, fmt.Errorf("extension %q not in allowed list", ext)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return 0, errors.Wrap(err, "stat file")
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("not a regular file: %s", absPath)
	}
	stamp := fileStamp{mtime: info.ModTime(), size: info.Size()}
	if ld.unchanged(absPath, stamp) {
		ld.logger.Debug("skipping unchanged export", zap.String("path", absPath))
		return 0, nil
	}

	f, err := os.Open(absPath)
	if err != nil {
		return 0, errors.Wrap(err, "open export")
	}
	defer f.Close()
	convs, err := ParseExport(f)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", absPath)
	}
	var msgs []*models.Message
	for _, c := range convs {
		msgs = append(msgs, ExtractMessages(c)...)
	}
	ld.logger.Info("loading export",
		zap.String("path", absPath),
		zap.Int("conversations", len(convs)),
		zap.Int("messages", len(msgs)))

	n, err := ld.LoadMessages(ctx, msgs)
	if err != nil {
		return n, err
	}
	ld.mu.Lock()
	ld.seen[absPath] = stamp
	ld.mu.Unlock()
	return n, nil
}

// Forget drops the skip record for path so the next LoadFile reloads it.
func (ld *Loader) Forget(path string) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	ld.mu.Lock()
	delete(ld.seen, absPath)
	ld.mu.Unlock()
}

// Changed reloads an export reported by a directory watcher. Failures are logged.
func (ld *Loader) Changed(ctx context.Context, path string) {
	n, err := ld.LoadFile(ctx, path)
	if err != nil {
		ld.logger.Error("reload export failed", zap.String("path", path), zap.Error(err))
		return
	}
	if n > 0 {
		ld.logger.Info("export reloaded", zap.String("path", path), zap.Int("messages", n))
	}
}

// Removed forgets a deleted export. Its messages stay in the store until the next replace.
func (ld *Loader) Removed(ctx context.Context, path string) {
	ld.Forget(path)
	ld.logger.Info("export removed", zap.String("path", path))
}

func (ld *Loader) unchanged(absPath string, stamp fileStamp) bool {
	ld.mu.Lock()
	defer ld.mu.Unlock()
	prev, ok := ld.seen[absPath]
	return ok && prev.size == stamp.size && prev.mtime.Equal(stamp.mtime)
}

// LoadDirectory loads every export file under dir whose extension is allowed, descending
// into subdirectories when recursive is set. It returns the number of files and messages
// loaded and stops at the first error.
func (ld *Loader) LoadDirectory(ctx context.Context, dir string, recursive bool) (files, messages int, err error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, 0, errors.Wrap(err, "absolute path")
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return 0, 0, errors.Wrap(err, "stat directory")
	}
	if !info.IsDir() {
		return 0, 0, fmt.Errorf("not a directory: %s", absDir)
	}
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if path != absDir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if len(ld.extensions) > 0 && !extensionAllowed(ext, ld.extensions) {
			return nil
		}
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		n, loadErr := ld.LoadFile(ctx, path)
		if loadErr != nil {
			return loadErr
		}
		files++
		messages += n
		return nil
	})
	return files, messages, err
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
