package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"auto_content_pipeline/depth"
)

// entry is the on-disk JSON record of one draft.
// Content 用指针区分“字段缺失”（损坏）与合法的空字符串。
type entry struct {
	Fingerprint depth.Fingerprint `json:"fingerprint"`
	Content     *string           `json:"content"`
	CreatedAt   time.Time         `json:"created_at"`
}

// FileCache stores one JSON file per fingerprint under Dir.
type FileCache struct {
	Dir string
}

func NewFileCache(dir string) (*FileCache, error) {
	if dir == "" {
		return nil, errors.New("cache dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &FileCache{Dir: dir}, nil
}

// Lookup 读取缓存；文件损坏、缺少 content 或指纹不一致都视为未命中。
func (c *FileCache) Lookup(fp depth.Fingerprint) (string, bool) {
	path := depth.BuildDepthCachePath(c.Dir, fp)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			klog.Warningf("[cache] read %s: %v; treating as miss", path, err)
		}
		return "", false
	}
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		klog.Warningf("[cache] corrupt entry %s: %v; treating as miss", path, err)
		return "", false
	}
	if e.Fingerprint != fp || e.Content == nil {
		klog.Warningf("[cache] malformed entry %s; treating as miss", path)
		return "", false
	}
	return *e.Content, true
}

// Store writes to a temp file in the same directory and renames it into
// place, so readers see either the old entry or the complete new one.
func (c *FileCache) Store(fp depth.Fingerprint, content string) error {
	data, err := json.MarshalIndent(entry{Fingerprint: fp, Content: &content, CreatedAt: time.Now().UTC()}, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(c.Dir, "."+string(fp)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp entry: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp entry: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, depth.BuildDepthCachePath(c.Dir, fp)); err != nil {
		return fmt.Errorf("commit entry: %w", err)
	}
	return nil
}

// Purge removes the entries of stage, or of one unit of it when unit is set.
// The directory is listed rather than globbed so names are never read as patterns.
func (c *FileCache) Purge(stage, unit string) (int, error) {
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, de := range entries {
		name := de.Name()
		if de.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		if !depth.Fingerprint(strings.TrimSuffix(name, ".json")).BelongsTo(stage, unit) {
			continue
		}
		if err := os.Remove(filepath.Join(c.Dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
