package monitor

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nicktill/espmon/pkg/config"
)

// StorageMonitor tracks disk usage of the data directory with caching to
// avoid walking it on every request.
type StorageMonitor struct {
	dataDir       string
	prefixes      []string
	maxBytes      int64
	cachedUsage   int64
	lastCheck     time.Time
	cacheDuration time.Duration
	mu            sync.Mutex
}

// NewStorageMonitor creates a new storage monitor. When prefixes are given
// only files whose names start with one of them are counted.
func NewStorageMonitor(dataDir string, maxBytes int64, prefixes ...string) *StorageMonitor {
	return &StorageMonitor{
		dataDir:       dataDir,
		prefixes:      prefixes,
		maxBytes:      maxBytes,
		cacheDuration: config.StorageCacheTTL,
	}
}

// GetUsage returns current storage usage in bytes (cached).
func (sm *StorageMonitor) GetUsage() (int64, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.lastCheck.IsZero() && time.Since(sm.lastCheck) < sm.cacheDuration {
		return sm.cachedUsage, nil
	}

	usage, err := sm.calculateDirSize()
	if err != nil {
		return 0, err
	}

	sm.cachedUsage = usage
	sm.lastCheck = time.Now()
	return usage, nil
}

// GetLimit returns the configured storage limit in bytes.
func (sm *StorageMonitor) GetLimit() int64 {
	return sm.maxBytes
}

// StorageStatus is the disk section of the storage response.
type StorageStatus struct {
	UsedBytes    int64   `json:"used_bytes"`
	LimitBytes   int64   `json:"limit_bytes"`
	UsedPercent  float64 `json:"used_percent"`
	OverCapacity bool    `json:"over_capacity"`
}

// Status reports usage against the limit.
func (sm *StorageMonitor) Status() (StorageStatus, error) {
	used, err := sm.GetUsage()
	if err != nil {
		return StorageStatus{}, err
	}
	status := StorageStatus{UsedBytes: used, LimitBytes: sm.maxBytes}
	if sm.maxBytes > 0 {
		status.UsedPercent = float64(used) / float64(sm.maxBytes) * 100
		status.OverCapacity = used > sm.maxBytes
	}
	return status, nil
}

func (sm *StorageMonitor) counts(name string) bool {
	if len(sm.prefixes) == 0 {
		return true
	}
	for _, p := range sm.prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// calculateDirSize sums the allocated size of every counted file under the
// data directory.
func (sm *StorageMonitor) calculateDirSize() (int64, error) {
	var size int64
	err := filepath.Walk(sm.dataDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && sm.counts(info.Name()) {
			size += allocatedSize(path, info)
		}
		return nil
	})
	return size, err
}
