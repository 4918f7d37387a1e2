package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// FilePerms restricts credential files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the credential directory.
const DirPerms = 0o700

// fileExt is the suffix of every credential file in the store directory.
const fileExt = ".json"

// FileStore keeps one JSON file per key inside a directory.
type FileStore struct {
	dir    string
	logger *slog.Logger
}

// NewFileStore returns a store rooted at dir. The directory is created on
// first write, not here, so read-only commands never touch the filesystem.
func NewFileStore(dir string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &FileStore{dir: dir, logger: logger}
}

// Dir returns the directory holding the credential files.
func (s *FileStore) Dir() string {
	return s.dir
}

// Path returns the file a key is stored in. The sanitized subject is only
// there for readability; the digest of the raw key is what keeps distinct
// keys in distinct files.
func (s *FileStore) Path(key Key) string {
	return filepath.Join(s.dir, sanitizeSubject(key.Subject)+"_"+key.digest()+fileExt)
}

// Get reads the credential for key. Returns (nil, nil) if the file does not
// exist or holds a credential stored under a different key.
func (s *FileStore) Get(_ context.Context, key Key) (*Credential, error) {
	path := s.Path(key)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrStorageUnavailable, path, err)
	}

	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %w", ErrStorageUnavailable, path, err)
	}

	if cred.Token == nil {
		return nil, fmt.Errorf("%w: %s missing token field", ErrStorageUnavailable, path)
	}

	if stored := cred.Key(); stored.Subject != key.Subject || stored.ScopeString() != key.ScopeString() {
		s.logger.Debug("credential file belongs to another key",
			slog.String("key", key.String()),
			slog.String("stored", stored.String()),
		)

		return nil, nil //nolint:nilnil // not this key's credential
	}

	s.logger.Debug("loaded cached credential",
		slog.String("key", key.String()),
		slog.Time("expiry", cred.Token.Expiry),
	)

	return &cred, nil
}

// Put writes the credential atomically (write-to-temp + rename) with 0600
// permissions. Never logs token values.
func (s *FileStore) Put(_ context.Context, key Key, cred *Credential) error {
	stored := cred.Clone()
	stored.Subject = key.Subject
	stored.Scopes = CanonicalScopes(key.Scopes)

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("credstore: encoding: %w", err)
	}

	path := s.Path(key)
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	s.logger.Debug("saved credential",
		slog.String("key", key.String()),
		slog.String("path", path),
	)

	return nil
}

// Delete removes the credential file for key.
func (s *FileStore) Delete(_ context.Context, key Key) error {
	path := s.Path(key)

	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug("no credential file to remove", slog.String("path", path))
		return nil
	}

	if err != nil {
		return fmt.Errorf("%w: removing %s: %w", ErrStorageUnavailable, path, err)
	}

	s.logger.Info("removed credential file", slog.String("path", path))

	return nil
}

// writeFileAtomic writes data to a temp file in the same directory, syncs it
// and renames it over path. Same directory guarantees same filesystem for
// rename(2).
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".cred-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing: %w", err)
	}

	// Flush before rename so a power loss cannot leave a partial file at path.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming: %w", err)
	}

	success = true

	return nil
}

// sanitizeSubject maps a subject to a file-name-safe string.
func sanitizeSubject(subject string) string {
	if subject == "" {
		return "default"
	}

	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '.', r == '@':
			return r
		default:
			return '_'
		}
	}, subject)
}
