package cache

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"imgload/pkg/common"
)

// Disk is the file tier. Each key maps to "<dir>/<key hash>.<ext>" and a
// file, once written, is never overwritten.
// Immutable
type Disk struct {
	dir    string
	codec  Codec
	index  *Index
	budget int64
}

// NewDisk returns a disk tier in dir. index may be nil, in which case the
// tier is unbounded and budget is ignored.
func NewDisk(dir string, codec Codec, index *Index, budget int64) *Disk {
	return &Disk{dir: dir, codec: codec, index: index, budget: budget}
}

func (d *Disk) Dir() string { return d.dir }

// Index returns the size index, nil when the tier is unindexed.
func (d *Disk) Index() *Index { return d.index }

// Path is the file that holds key.
func (d *Disk) Path(key common.Key) string {
	return filepath.Join(d.dir, d.name(key))
}

func (d *Disk) name(key common.Key) string {
	return key.Hash() + "." + d.codec.Ext()
}

// Get decodes the file for key. A missing file is a miss; an undecodable one
// is removed and reported as a miss.
func (d *Disk) Get(ctx context.Context, key common.Key) (image.Image, bool) {
	path := d.Path(key)
	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	img, err := d.codec.Decode(f)
	f.Close()
	if err != nil {
		slog.Warn("Dropping unreadable cache file", "path", path, "error", err)
		d.drop(ctx, d.name(key))
		return nil, false
	}
	if d.index != nil {
		if err := d.index.Touch(ctx, d.name(key)); err != nil {
			slog.Debug("Index touch failed", "path", path, "error", err)
		}
	}
	return img, true
}

// Put writes img for key unless a file already exists. The file appears
// atomically under its final name.
func (d *Disk) Put(ctx context.Context, key common.Key, img image.Image) error {
	path := d.Path(key)
	written := false
	err := Ensure(ctx, path, func() error {
		tmp := path + ".tmp"
		f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return err
		}
		if err := d.codec.Encode(f, img); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("encoding %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			os.Remove(tmp)
			return err
		}
		if err := os.Rename(tmp, path); err != nil {
			os.Remove(tmp)
			return err
		}
		written = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrPersistence, err)
	}
	if !written || d.index == nil {
		return nil
	}

	if info, err := os.Stat(path); err == nil {
		if err := d.index.Record(ctx, d.name(key), info.Size()); err != nil {
			slog.Debug("Index record failed", "path", path, "error", err)
		}
	}
	if d.budget > 0 {
		if _, err := d.Trim(ctx, d.budget); err != nil {
			slog.Warn("Trimming disk cache failed", "error", err)
		}
	}
	return nil
}

func (d *Disk) Remove(ctx context.Context, key common.Key) error {
	return d.drop(ctx, d.name(key))
}

func (d *Disk) drop(ctx context.Context, name string) error {
	err := os.Remove(filepath.Join(d.dir, name))
	if d.index != nil {
		if ierr := d.index.Forget(ctx, name); ierr != nil {
			slog.Debug("Index forget failed", "name", name, "error", ierr)
		}
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Trim removes least recently used files until the tier holds at most budget
// bytes. It returns the number of files removed. Without an index it does nothing.
func (d *Disk) Trim(ctx context.Context, budget int64) (int, error) {
	if d.index == nil {
		return 0, nil
	}
	total, _, err := d.index.Totals(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for total > budget {
		batch, err := d.index.Oldest(ctx, 32)
		if err != nil {
			return removed, err
		}
		if len(batch) == 0 {
			break
		}
		for _, e := range batch {
			if total <= budget {
				break
			}
			if err := d.drop(ctx, e.Name); err != nil {
				return removed, err
			}
			total -= e.Size
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("Trimmed disk cache", "removed", removed, "budget", budget)
	}
	return removed, nil
}

// Reindex adds every file in the tier directory that the index does not know
// yet. It lets a budget apply to files written before the index existed.
func (d *Disk) Reindex(ctx context.Context) (int, error) {
	if d.index == nil {
		return 0, nil
	}
	ents, err := os.ReadDir(d.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	added := 0
	suffix := "." + d.codec.Ext()
	for _, ent := range ents {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), suffix) {
			continue
		}
		known, err := d.index.Has(ctx, ent.Name())
		if err != nil {
			return added, err
		}
		if known {
			continue
		}
		info, err := ent.Info()
		if err != nil {
			continue
		}
		if err := d.index.Record(ctx, ent.Name(), info.Size()); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

// Clear removes every file of the tier.
func (d *Disk) Clear(ctx context.Context) error {
	if err := os.RemoveAll(d.dir); err != nil {
		return err
	}
	if d.index != nil {
		return d.index.Reset(ctx)
	}
	return nil
}
