package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/maltedev/queenbooks-stock/internal/browser"
)

// StoredSession is the persisted cookie jar of a logged-in browser.
type StoredSession struct {
	Cookies    []browser.Cookie `json:"cookies"`
	CapturedAt time.Time        `json:"captured_at"`
	ExpiresAt  time.Time        `json:"expires_at"`
}

func (s *StoredSession) expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// FileStore keeps the session in a JSON file next to the service.
type FileStore struct {
	path string
	ttl  time.Duration
	now  func() time.Time
}

func NewFileStore(path string, ttl time.Duration) *FileStore {
	return &FileStore{path: path, ttl: ttl, now: time.Now}
}

// Save persists cookies to disk
func (fs *FileStore) Save(ctx context.Context, cookies []browser.Cookie) error {
	if err := os.MkdirAll(filepath.Dir(fs.path), 0700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	data, err := json.MarshalIndent(newStoredSession(cookies, fs.ttl, fs.now()), "", "  ")
	if err != nil {
		return err
	}

	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return os.Rename(tmp, fs.path)
}

// Load returns the stored cookies. A missing or expired file yields none.
func (fs *FileStore) Load(ctx context.Context) ([]browser.Cookie, error) {
	data, err := os.ReadFile(fs.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}

	var stored StoredSession
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if stored.expired(fs.now()) {
		return nil, nil
	}
	return stored.Cookies, nil
}

// Clear removes stored cookies
func (fs *FileStore) Clear(ctx context.Context) error {
	err := os.Remove(fs.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// newStoredSession stamps cookies with an expiry: the earliest cookie expiry
// or the TTL, whichever comes first.
func newStoredSession(cookies []browser.Cookie, ttl time.Duration, now time.Time) StoredSession {
	var expires time.Time
	if ttl > 0 {
		expires = now.Add(ttl)
	}
	for _, c := range cookies {
		if c.Expires <= 0 {
			continue
		}
		exp := time.Unix(int64(c.Expires), 0)
		if expires.IsZero() || exp.Before(expires) {
			expires = exp
		}
	}

	return StoredSession{
		Cookies:    cookies,
		CapturedAt: now.UTC(),
		ExpiresAt:  expires.UTC(),
	}
}
