package monitor

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStorageMonitor_Limit(t *testing.T) {
	sm := NewStorageMonitor(t.TempDir(), 1024*1024*1024)
	if got := sm.Limit(); got != 1024*1024*1024 {
		t.Errorf("Limit() = %d, want %d", got, 1024*1024*1024)
	}
}

func TestStorageMonitor_Usage(t *testing.T) {
	tmpDir := t.TempDir()

	if err := os.WriteFile(filepath.Join(tmpDir, "observations.db"), []byte("test data"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	sm := NewStorageMonitor(tmpDir, 1024*1024*1024)
	usage, err := sm.Usage()
	if err != nil {
		t.Fatalf("Usage() error = %v", err)
	}
	if usage.UsedBytes < 9 {
		t.Errorf("UsedBytes = %d, want at least 9", usage.UsedBytes)
	}
	if usage.UsagePercent <= 0 {
		t.Errorf("UsagePercent = %f, want > 0", usage.UsagePercent)
	}
}

func TestStorageMonitor_Caching(t *testing.T) {
	tmpDir := t.TempDir()
	sm := NewStorageMonitor(tmpDir, 0)

	first, err := sm.Usage()
	if err != nil {
		t.Fatalf("Usage() error = %v", err)
	}

	// Cached until usageCacheDuration passes
	if err := os.WriteFile(filepath.Join(tmpDir, "later.vlog"), make([]byte, 64*1024), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
	second, err := sm.Usage()
	if err != nil {
		t.Fatalf("Usage() error = %v", err)
	}
	if first.UsedBytes != second.UsedBytes {
		t.Errorf("Cached values differ: %d != %d", first.UsedBytes, second.UsedBytes)
	}
}

func TestStorageMonitor_MemoryBackend(t *testing.T) {
	usage, err := NewStorageMonitor("", 0).Usage()
	if err != nil {
		t.Fatalf("Usage() error = %v", err)
	}
	if usage.UsedBytes != 0 {
		t.Errorf("UsedBytes = %d, want 0", usage.UsedBytes)
	}
}

func TestStorageMonitor_InvalidDir(t *testing.T) {
	sm := NewStorageMonitor("/nonexistent/path/12345", 1024*1024*1024)
	if _, err := sm.Usage(); err == nil {
		t.Error("Usage() should return error for nonexistent directory")
	}
}

func TestStorageMonitor_Full(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "000001.sst"), make([]byte, 4096), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	full, err := NewStorageMonitor(tmpDir, 1).Full()
	if err != nil {
		t.Fatalf("Full() error = %v", err)
	}
	if !full {
		t.Error("Full() = false with usage above a 1 byte limit")
	}

	full, err = NewStorageMonitor(tmpDir, 0).Full()
	if err != nil || full {
		t.Errorf("Full() = %v, %v without a limit, want false, nil", full, err)
	}
}
