// Package disk reports and reclaims the local storage used by imgload.
package disk

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"imgload/pkg/common"
	"imgload/pkg/downloader"

	"github.com/dustin/go-humanize"
)

func (m *manager) Info(ctx context.Context) (*common.ExecutionResult, error) {
	stats, total := m.GetInfo()
	table := &common.Table{
		Header: []string{"Type", "Size", "Items", "Path"},
	}
	for _, s := range stats {
		table.Rows = append(table.Rows, []string{s.Label, humanize.Bytes(uint64(s.Size)), strconv.Itoa(s.Items), s.Path})
	}

	out := &common.Output{
		Table:   table,
		Message: fmt.Sprintf("Total: %s", humanize.Bytes(uint64(total))),
	}
	if ix := m.tier.Index(); ix != nil {
		bytes, files, err := ix.Totals(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading cache index: %w", err)
		}
		out.KV = append(out.KV,
			common.KV{Key: "Indexed", Value: fmt.Sprintf("%d files, %s", files, humanize.Bytes(uint64(bytes)))})
	}
	if err := m.metas.Recovered(); err != nil {
		note := "discarded: " + err.Error()
		if !m.metas.Persistent() {
			note += " (kept in memory only)"
		}
		out.KV = append(out.KV, common.KV{Key: "Metadata", Value: note})
	}
	if budget := m.cfg.GetSettings().DiskBudget; budget > 0 {
		out.KV = append(out.KV, common.KV{Key: "Budget", Value: humanize.Bytes(uint64(budget))})
	} else {
		out.KV = append(out.KV, common.KV{Key: "Budget", Value: "unbounded"})
	}
	return &common.ExecutionResult{Output: out}, nil
}

// CleanDir removes decoded images, raw downloads and transfer metadata.
func (m *manager) CleanDir(ctx context.Context) (*common.ExecutionResult, error) {
	cleaned, err := m.Clean(ctx)
	for _, dir := range cleaned {
		slog.Info("Cleaning", "path", dir)
	}
	if err != nil {
		return nil, err
	}
	return &common.ExecutionResult{
		Output: &common.Output{
			Message: "Clean complete",
		},
	}, nil
}

// TrimTo shrinks the decoded tier to budget bytes, least recently used first.
// A budget of zero or less uses the configured disk budget.
func (m *manager) TrimTo(ctx context.Context, budget int64) (*common.ExecutionResult, error) {
	if budget <= 0 {
		budget = m.cfg.GetSettings().DiskBudget
	}
	if budget <= 0 {
		return nil, fmt.Errorf("no disk budget configured; pass one explicitly")
	}
	if m.tier.Index() == nil {
		return nil, fmt.Errorf("disk tier has no index")
	}
	added, err := m.tier.Reindex(ctx)
	if err != nil {
		return nil, fmt.Errorf("indexing %s: %w", m.tier.Dir(), err)
	}
	removed, err := m.tier.Trim(ctx, budget)
	if err != nil {
		return nil, fmt.Errorf("trimming %s: %w", m.tier.Dir(), err)
	}
	slog.Debug("Trim finished", "indexed", added, "removed", removed)
	return &common.ExecutionResult{
		Output: &common.Output{
			Message: fmt.Sprintf("Removed %d files to fit %s", removed, humanize.Bytes(uint64(budget))),
		},
	}, nil
}

func (m *manager) GetInfo() ([]Usage, int64) {
	var stats []Usage
	add := func(label, path string, size int64, items int) {
		stats = append(stats, Usage{Label: label, Size: size, Items: items, Path: path})
	}

	size, count := DirSize(m.cfg.GetImageDir(), "")
	add("Images", m.cfg.GetImageDir(), size, count)

	rawDir := m.cfg.GetRawDir()
	size, count = DirSize(rawDir, downloader.TempPath(""))
	if info, err := os.Stat(m.cfg.GetMetaFile()); err == nil {
		size -= info.Size()
		count--
	}
	add("Downloads", rawDir, size, count)

	size, count = partials(rawDir)
	add("Partial", rawDir, size, count)

	if info, err := os.Stat(m.cfg.GetMetaFile()); err == nil {
		add("Metadata", m.cfg.GetMetaFile(), info.Size(), 1)
	}
	if info, err := os.Stat(m.cfg.GetIndexFile()); err == nil {
		add("Index", m.cfg.GetIndexFile(), info.Size(), 1)
	}

	var total int64
	for _, s := range stats {
		total += s.Size
	}
	return stats, total
}

// Clean empties the decoded tier, the raw download directory and the
// transfer metadata. It returns the directories it cleaned.
func (m *manager) Clean(ctx context.Context) ([]string, error) {
	var cleaned []string
	if _, err := os.Stat(m.tier.Dir()); err == nil {
		cleaned = append(cleaned, m.tier.Dir())
	}
	if err := m.tier.Clear(ctx); err != nil {
		return cleaned, fmt.Errorf("clearing %s: %w", m.tier.Dir(), err)
	}

	m.metas.Clear()
	rawDir := m.cfg.GetRawDir()
	if _, err := os.Stat(rawDir); err == nil {
		if err := os.RemoveAll(rawDir); err != nil {
			return cleaned, fmt.Errorf("clearing %s: %w", rawDir, err)
		}
		cleaned = append(cleaned, rawDir)
	}
	return cleaned, nil
}
