// Package monitor tracks server health: on-disk storage usage, run
// history and background task outcomes.
package monitor

import (
	"os"
	"path/filepath"
	"sync"
	"time"
)

// usageCacheDuration bounds how often the data directory is walked.
const usageCacheDuration = 10 * time.Second

// StorageMonitor reports on-disk usage of the observation store.
type StorageMonitor struct {
	dataDir  string
	maxBytes int64

	mu          sync.Mutex
	cachedUsage int64
	lastCheck   time.Time
}

// NewStorageMonitor creates a monitor for dataDir. An empty dataDir (the
// memory backend) always reports zero usage.
func NewStorageMonitor(dataDir string, maxBytes int64) *StorageMonitor {
	return &StorageMonitor{dataDir: dataDir, maxBytes: maxBytes}
}

// Usage is the storage endpoint view.
type Usage struct {
	DataDir      string  `json:"data_dir,omitempty"`
	UsedBytes    int64   `json:"used_bytes"`
	LimitBytes   int64   `json:"limit_bytes,omitempty"`
	UsagePercent float64 `json:"usage_percent,omitempty"`
}

// Usage returns current usage. The directory walk is cached for
// usageCacheDuration.
func (sm *StorageMonitor) Usage() (Usage, error) {
	used, err := sm.usedBytes()
	if err != nil {
		return Usage{}, err
	}
	u := Usage{DataDir: sm.dataDir, UsedBytes: used, LimitBytes: sm.maxBytes}
	if sm.maxBytes > 0 {
		u.UsagePercent = float64(used) / float64(sm.maxBytes) * 100
	}
	return u, nil
}

// Limit returns the configured storage limit in bytes.
func (sm *StorageMonitor) Limit() int64 {
	return sm.maxBytes
}

func (sm *StorageMonitor) usedBytes() (int64, error) {
	if sm.dataDir == "" {
		return 0, nil
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.lastCheck.IsZero() && time.Since(sm.lastCheck) < usageCacheDuration {
		return sm.cachedUsage, nil
	}
	used, err := dirSize(sm.dataDir)
	if err != nil {
		return 0, err
	}
	sm.cachedUsage = used
	sm.lastCheck = time.Now()
	return used, nil
}

// dirSize sums the allocated size of every file under path.
func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if n, err := diskUsage(p, info); err == nil {
			size += n
		} else {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// Full reports whether usage has reached the limit. Without a limit the
// store is never full.
func (sm *StorageMonitor) Full() (bool, error) {
	if sm.maxBytes <= 0 {
		return false, nil
	}
	used, err := sm.usedBytes()
	if err != nil {
		return false, err
	}
	return used >= sm.maxBytes, nil
}
