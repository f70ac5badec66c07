package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/apidoorman/doorman-sub003/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/crypto/chacha20poly1305"
)

// snapshotAAD binds ciphertexts to the dump format version.
var snapshotAAD = []byte("doorman-memory-dump-v1")

// Snapshotter encrypts memory-store state to disk and back. Dumps fail
// with ErrEncryptionKeyUnset when no secret is configured.
type Snapshotter struct {
	mem  *Memory
	key  []byte
	path string
}

// NewSnapshotter derives the sealing key from the configured secret. An
// empty secret leaves the snapshotter unable to dump or restore.
func NewSnapshotter(mem *Memory, secret, path string) *Snapshotter {
	s := &Snapshotter{mem: mem, path: path}
	if secret != "" {
		sum := sha256.Sum256([]byte(secret))
		s.key = sum[:]
	}
	return s
}

// Dump serializes every collection, including dynamically created
// crud_data_* collections, to an encrypted blob at the configured path
// with a timestamp suffix. Returns the written file path.
func (s *Snapshotter) Dump() (string, error) {
	if s.key == nil {
		return "", ErrEncryptionKeyUnset
	}

	payload, err := json.Marshal(s.mem.Export())
	if err != nil {
		return "", fmt.Errorf("store: marshal snapshot: %w", err)
	}

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", fmt.Errorf("store: init cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("store: nonce: %w", err)
	}
	blob := aead.Seal(nonce, nonce, payload, snapshotAAD)

	target := s.path + "." + time.Now().UTC().Format("20060102T150405.000000000")
	if dir := filepath.Dir(target); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", fmt.Errorf("store: create dump dir: %w", err)
		}
	}
	if err := os.WriteFile(target, blob, 0o600); err != nil {
		return "", fmt.Errorf("store: write dump: %w", err)
	}
	return target, nil
}

// Restore decrypts the blob at path, clears existing state, and loads the
// snapshot.
func (s *Snapshotter) Restore(path string) error {
	if s.key == nil {
		return ErrEncryptionKeyUnset
	}

	blob, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("store: read dump: %w", err)
	}

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return fmt.Errorf("store: init cipher: %w", err)
	}
	if len(blob) < aead.NonceSize() {
		return fmt.Errorf("store: dump file truncated")
	}
	nonce, sealed := blob[:aead.NonceSize()], blob[aead.NonceSize():]
	payload, err := aead.Open(nil, nonce, sealed, snapshotAAD)
	if err != nil {
		return fmt.Errorf("store: decrypt dump: %w", err)
	}

	var data map[string][]Document
	if err := json.Unmarshal(payload, &data); err != nil {
		return fmt.Errorf("store: parse dump: %w", err)
	}
	s.mem.ImportAll(data)
	return nil
}

// RestoreLatest restores from the most recent dump for the configured
// path.
func (s *Snapshotter) RestoreLatest() error {
	latest, err := FindLatestDump(s.path)
	if err != nil {
		return err
	}
	return s.Restore(latest)
}

// FindLatestDump returns the newest dump file for the given base path.
// Dump files carry sortable timestamp suffixes so lexical order is
// chronological.
func FindLatestDump(base string) (string, error) {
	dir := filepath.Dir(base)
	prefix := filepath.Base(base) + "."

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("store: scan dump dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("store: no dump found under %s: %w", dir, os.ErrNotExist)
	}
	sort.Strings(names)
	return filepath.Join(dir, names[len(names)-1]), nil
}

// AutoSaveSettings is re-evaluated before each save so runtime changes to
// the security settings take effect without restart.
type AutoSaveSettings func() (enabled bool, every time.Duration)

// RunAutoSave periodically dumps the memory store until ctx is cancelled.
// Intended to run as a goroutine in memory mode.
func RunAutoSave(ctx context.Context, snap *Snapshotter, settings AutoSaveSettings) {
	const idlePoll = 30 * time.Second

	for {
		enabled, every := settings()
		wait := every
		if !enabled || wait <= 0 {
			wait = idlePoll
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		if enabled, _ = settings(); !enabled {
			continue
		}
		path, err := snap.Dump()
		if err != nil {
			logging.Error("memory auto-save failed", zap.Error(err))
			continue
		}
		logging.Debug("memory auto-save written", zap.String("path", path))
	}
}
