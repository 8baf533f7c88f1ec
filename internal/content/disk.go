package content

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing/fstest"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/keithlinneman/vitesheet/internal/cryptoutil"
	"github.com/keithlinneman/vitesheet/internal/log"
	"github.com/keithlinneman/vitesheet/internal/xerrors"
)

// DefaultDebounce is how long the DirWatcher waits for writes to settle.
const DefaultDebounce = 500 * time.Millisecond

// LoadDir reads the content tree rooted at dir into memory and indexes it.
// The snapshot serves the bytes read here, not the live directory. The hash
// covers every file path and body, so it changes exactly when the tree does.
func LoadDir(dir, pattern string) (*Snapshot, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, xerrors.Wrapf(err, "content dir %s", dir)
	}
	if !info.IsDir() {
		return nil, xerrors.Newf("content dir %s is not a directory", dir)
	}

	files, err := readTree(os.DirFS(dir))
	if err != nil {
		return nil, xerrors.Wrapf(err, "read %s", dir)
	}
	return newSnapshot(files, pattern, Meta{
		Hash:       hashTree(files),
		Source:     SourceDisk,
		VerifiedAt: time.Now().UTC(),
	})
}

// readTree copies every regular file outside dot directories and dotfiles
// into a MapFS, under the same size limits as bundle extraction.
func readTree(fsys fs.FS) (fstest.MapFS, error) {
	out := make(fstest.MapFS)
	var total int64
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if hiddenDir(p) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > maxSingleFile {
			return xerrors.Newf("file %s exceeds max size (%d > %d)", p, info.Size(), maxSingleFile)
		}
		body, err := readLimited(fsys, p)
		if err != nil {
			return err
		}
		total += int64(len(body))
		if total > maxTotalExtract {
			return xerrors.Newf("content tree exceeds limit (%d bytes, max %d)", total, maxTotalExtract)
		}
		out[p] = &fstest.MapFile{Data: body, Mode: info.Mode().Perm(), ModTime: info.ModTime()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// readLimited reads p, failing when the file grew past maxSingleFile since
// it was stat'ed.
func readLimited(fsys fs.FS, p string) ([]byte, error) {
	f, err := fsys.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	body, err := io.ReadAll(io.LimitReader(f, maxSingleFile+1))
	if err != nil {
		return nil, xerrors.Wrapf(err, "read %s", p)
	}
	if int64(len(body)) > maxSingleFile {
		return nil, xerrors.Newf("file %s exceeds max size after read", p)
	}
	return body, nil
}

// hashTree returns the SHA-256 over "path\x00sha256(body)\n" for every file
// in sorted path order.
func hashTree(files fstest.MapFS) string {
	outer := sha256.New()
	for _, p := range slices.Sorted(maps.Keys(files)) {
		sum := sha256.Sum256(files[p].Data)
		fmt.Fprintf(outer, "%s\x00%s\n", p, hex.EncodeToString(sum[:]))
	}
	return hex.EncodeToString(outer.Sum(nil))
}

// DirWatcherOptions configures a DirWatcher.
type DirWatcherOptions struct {
	Logger      log.Logger
	Dir         string
	PagePattern string
	Manager     *Manager

	// Debounce collapses bursts of filesystem events. Zero means DefaultDebounce.
	Debounce time.Duration

	// Validation runs before a reload is published. Nil uses
	// DefaultValidationOptions().
	Validation *ValidationOptions

	OnSwap  func(snap *Snapshot)
	Metrics WatcherMetrics
}

// DirWatcher reloads a disk content tree when files under it change.
type DirWatcher struct {
	opts       DirWatcherOptions
	logger     log.Logger
	validation ValidationOptions
	fsw        *fsnotify.Watcher
	metrics    WatcherMetrics

	currentHash string
	swapCount   int64
}

// NewDirWatcher opens an fsnotify watcher on opts.Dir and every directory
// below it. Call Run to start processing events.
func NewDirWatcher(opts DirWatcherOptions) (*DirWatcher, error) {
	if opts.Dir == "" {
		return nil, xerrors.New("DirWatcher: Dir is required")
	}
	if opts.Manager == nil {
		return nil, xerrors.New("DirWatcher: Manager is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	validation := DefaultValidationOptions()
	if opts.Validation != nil {
		validation = *opts.Validation
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, xerrors.Wrap(err, "create fsnotify watcher")
	}
	w := &DirWatcher{
		opts:       opts,
		logger:     opts.Logger,
		validation: validation,
		fsw:        fsw,
		metrics:    metricsOrNop(opts.Metrics),
	}
	if snap, ok := opts.Manager.Get(); ok {
		w.currentHash = snap.Meta.Hash
	}
	if err := w.addTree(opts.Dir); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// addTree watches root and its non-hidden subdirectories.
func (w *DirWatcher) addTree(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			return xerrors.Wrapf(err, "watch %s", p)
		}
		return nil
	})
}

// Run processes events until ctx is cancelled, then closes the watcher.
func (w *DirWatcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	w.logger.Info(ctx, "content dir watcher starting",
		"dir", w.opts.Dir,
		"debounce", w.opts.Debounce.String(),
	)

	timer := time.NewTimer(w.opts.Debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "content dir watcher stopping", "reason", ctx.Err(), "swaps", w.swapCount)
			return ctx.Err()

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addTree(ev.Name); err != nil {
						w.logger.Warn(ctx, "content dir watcher: cannot watch new directory", "path", ev.Name, "error", err)
					}
				}
			}
			if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
				continue
			}
			timer.Reset(w.opts.Debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error(ctx, err, "content dir watcher: fsnotify error")
			w.metrics.IncWatcherError("fsnotify")

		case <-timer.C:
			w.reload(ctx)
		}
	}
}

// reload rebuilds the snapshot and publishes it when it changed and passes
// validation.
func (w *DirWatcher) reload(ctx context.Context) pollResult {
	m := w.metrics
	m.IncWatcherPolls()

	start := time.Now()
	snap, err := LoadDir(w.opts.Dir, w.opts.PagePattern)
	m.ObserveBundleLoadDuration(time.Since(start).Seconds())
	if err != nil {
		w.logger.Error(ctx, err, "content dir watcher: reload failed", "dir", w.opts.Dir)
		m.IncWatcherError("load")
		return pollLoadError
	}
	m.SetWatcherLastSuccess(float64(time.Now().Unix()))

	if cryptoutil.HashEqual(snap.Meta.Hash, w.currentHash) {
		return pollNoChange
	}

	if err := ValidateSnapshot(snap, w.validation); err != nil {
		w.logger.Error(ctx, err, "content dir watcher: tree failed validation, keeping current content",
			"rejected_hash", truncHash(snap.Meta.Hash),
			"current_hash", truncHash(w.currentHash),
		)
		m.IncWatcherError("validation")
		return pollValidationError
	}

	prev := w.opts.Manager.Swap(*snap)
	w.currentHash = snap.Meta.Hash
	w.swapCount++
	m.IncWatcherSwaps()

	w.logger.Info(ctx, "content dir watcher: content reloaded",
		"old_hash", truncHash(prevHash(prev)),
		"new_hash", truncHash(snap.Meta.Hash),
		"pages", snap.Index.Len(),
		"page_delta", snap.Index.Len()-prevPages(prev),
	)
	notifySwap(ctx, w.logger, w.opts.OnSwap, snap)
	return pollSwapped
}

// Close releases the fsnotify watcher without running.
func (w *DirWatcher) Close() error { return w.fsw.Close() }
