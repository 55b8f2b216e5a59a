package ingest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Orphan is a stored file that no record points at.
type Orphan struct {
	Path    string
	Size    int64
	ModTime int64 // unix 秒
}

// FindOrphans lists regular files directly under dir whose path is not in
// known and that were last modified before cutoff. Paths in known are
// compared after filepath.Clean. A zero cutoff disables the age filter. A
// missing dir yields no orphans.
func FindOrphans(dir string, known []string, cutoff time.Time) ([]Orphan, error) {
	keep := make(map[string]struct{}, len(known))
	for _, p := range known {
		keep[filepath.Clean(p)] = struct{}{}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read upload dir: %w", err)
	}

	var out []Orphan
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		path := filepath.Clean(filepath.Join(dir, e.Name()))
		if _, ok := keep[path]; ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// 读取期间被删除
			continue
		}
		if !cutoff.IsZero() && !info.ModTime().Before(cutoff) {
			// 可能是还没建立记录的上传
			continue
		}
		out = append(out, Orphan{Path: path, Size: info.Size(), ModTime: info.ModTime().Unix()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}
