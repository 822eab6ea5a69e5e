package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/maltedev/queenbooks-stock/internal/stock"
)

const (
	filePrefix = "estoque-"
	fileSuffix = ".json"
	dateLayout = "2006-01-02"

	// MaxListed caps how many snapshots List returns.
	MaxListed = 20
)

// SnapshotInfo describes one snapshot file.
type SnapshotInfo struct {
	Name       string    `json:"name"`
	Date       string    `json:"date"`
	Products   int       `json:"products"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// SnapshotStorage writes one JSON array of results per day. Results for
// the same day are merged by product id, later checks replacing earlier ones.
type SnapshotStorage struct {
	mu  sync.Mutex
	dir string
	now func() time.Time
}

func NewSnapshotStorage(dir string) (*SnapshotStorage, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &SnapshotStorage{dir: dir, now: time.Now}, nil
}

// FileName returns the snapshot name for the day of t.
func FileName(t time.Time) string {
	return filePrefix + t.Format(dateLayout) + fileSuffix
}

// Save merges results into today's snapshot and returns its path.
func (s *SnapshotStorage) Save(results []stock.Result) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, FileName(s.now()))

	existing, err := readResults(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", err
	}

	merged := merge(existing, results)
	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return "", err
	}

	// Write to temp file first for atomicity
	tmpFile := path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return "", err
	}
	if err := os.Rename(tmpFile, path); err != nil {
		return "", err
	}
	return path, nil
}

// Load reads the snapshot for a date in YYYY-MM-DD form.
func (s *SnapshotStorage) Load(date string) ([]stock.Result, error) {
	if _, err := time.Parse(dateLayout, date); err != nil {
		return nil, fmt.Errorf("invalid snapshot date %q: %w", date, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return readResults(filepath.Join(s.dir, filePrefix+date+fileSuffix))
}

// List returns the newest snapshots first, at most MaxListed.
func (s *SnapshotStorage) List() ([]SnapshotInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var infos []SnapshotInfo
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		date := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
		if _, err := time.Parse(dateLayout, date); err != nil {
			continue
		}

		fi, err := entry.Info()
		if err != nil {
			continue
		}
		results, err := readResults(filepath.Join(s.dir, name))
		if err != nil {
			continue
		}

		infos = append(infos, SnapshotInfo{
			Name:       name,
			Date:       date,
			Products:   len(results),
			Size:       fi.Size(),
			ModifiedAt: fi.ModTime().UTC(),
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Date > infos[j].Date
	})
	if len(infos) > MaxListed {
		infos = infos[:MaxListed]
	}
	return infos, nil
}

func readResults(path string) ([]stock.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var results []stock.Result
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", filepath.Base(path), err)
	}
	return results, nil
}

// merge replaces existing entries in place and appends new ids in order.
// A failed result never replaces a confirmed one from earlier that day.
func merge(existing, fresh []stock.Result) []stock.Result {
	index := make(map[string]int, len(existing))
	out := make([]stock.Result, 0, len(existing)+len(fresh))
	for _, r := range existing {
		index[r.ProductID] = len(out)
		out = append(out, r)
	}
	for _, r := range fresh {
		if i, ok := index[r.ProductID]; ok {
			if !r.Failed() || out[i].Failed() {
				out[i] = r
			}
			continue
		}
		index[r.ProductID] = len(out)
		out = append(out, r)
	}
	return out
}
