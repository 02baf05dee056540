package disk

import (
	"imgload/pkg/cache"
	"imgload/pkg/config"
	"imgload/pkg/metastore"
)

// manager defines the internal state for managing imgload's local storage.
type manager struct {
	cfg   config.ReadOnly
	tier  *cache.Disk
	metas metastore.Store
}

// Manager is a pointer to the internal manager implementation.
type Manager = *manager

// NewManager creates a disk manager over the directories of cfg. tier is the
// decoded image tier and metas the transfer metadata kept beside raw files.
func NewManager(cfg config.ReadOnly, tier *cache.Disk, metas metastore.Store) Manager {
	return &manager{cfg: cfg, tier: tier, metas: metas}
}

// Usage represents disk usage information for a specific category of data.
type Usage struct {
	Label string
	Size  int64
	Items int
	Path  string
}
