// Package download fetches remote files with content-hash verification and
// idempotent placement on the local filesystem.
package download

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// File describes how to download a file from the Web.
type File struct {
	// URL is the remote location of the file.
	URL string
	// Name is the local file name, relative to Dir.
	Name string
	// Hash is the expected content hash, hex encoded. Empty disables
	// verification.
	Hash string
	// HashType is "sha256" (default), "md5" or "sha1".
	HashType string
	// Dir is the directory in which to store the file.
	Dir string
	// Rename holds {from, to} paths (relative to Dir) applied after an
	// archive download has been unpacked.
	Rename []string
}

// Path returns the local path of the downloaded file.
func (f File) Path() string {
	if f.Dir != "" {
		return filepath.Join(f.Dir, f.Name)
	}
	return f.Name
}

// Fetch downloads the file if it is not already present with the expected
// hash, unpacks it when it is an archive, and applies the rename step.
// Re-fetching a file that already verified is a no-op.
func Fetch(ctx context.Context, client *http.Client, file File, logger logrus.FieldLogger) error {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if client == nil {
		client = http.DefaultClient
	}

	if file.Hash != "" && sameHash(file, logger) {
		logger.WithField("file", file.Name).Debug("already downloaded, skipping")
	} else {
		logger.WithFields(logrus.Fields{"file": file.Name, "url": file.URL}).Info("downloading")
		if err := fetchOne(ctx, client, file); err != nil {
			return err
		}
	}

	if err := unpack(file, logger); err != nil {
		return err
	}

	if rename := file.Rename; len(rename) == 2 {
		from := filepath.Join(file.Dir, rename[0])
		to := filepath.Join(file.Dir, rename[1])
		os.RemoveAll(to) // Ignore error.
		if err := os.Rename(from, to); err != nil {
			return fmt.Errorf("renaming %q to %q: %w", from, to, err)
		}
	}
	return nil
}

func fetchOne(ctx context.Context, client *http.Client, file File) (err error) {
	tmp, err := os.CreateTemp(file.Dir, file.Name+".partial-*")
	if err != nil {
		return fmt.Errorf("creating temp file for %q: %w", file.Name, err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name()) // No-op after a successful rename.
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.URL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: downloading %q: %w", file.Name, file.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: downloading %q: unexpected status %s", file.Name, file.URL, resp.Status)
	}

	if file.Hash != "" {
		h := newHash(file.HashType)
		if _, err := io.Copy(io.MultiWriter(tmp, h), resp.Body); err != nil {
			return fmt.Errorf("%s: downloading %q: %w", file.Name, file.URL, err)
		}
		if got := hex.EncodeToString(h.Sum(nil)); got != file.Hash {
			return fmt.Errorf("%s: got %s hash %q, want %q", file.Name, file.HashType, got, file.Hash)
		}
	} else {
		if _, err := io.Copy(tmp, resp.Body); err != nil {
			return fmt.Errorf("%s: downloading %q: %w", file.Name, file.URL, err)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %q: %w", tmp.Name(), err)
	}
	// Atomic placement keeps concurrent fetchers from observing a torn file.
	return os.Rename(tmp.Name(), file.Path())
}

func newHash(hashType string) hash.Hash {
	switch strings.ToLower(hashType) {
	case "md5":
		return md5.New()
	case "sha1":
		return sha1.New()
	default:
		return sha256.New()
	}
}

func sameHash(file File, logger logrus.FieldLogger) bool {
	if _, err := os.Stat(file.Path()); err != nil {
		return false
	}
	f, err := os.Open(file.Path())
	if err != nil {
		return false
	}
	defer f.Close()

	h := newHash(file.HashType)
	if _, err := io.Copy(h, f); err != nil {
		return false
	}

	sum := hex.EncodeToString(h.Sum(nil))
	if sum != file.Hash {
		logger.WithFields(logrus.Fields{
			"file": file.Name, "got": sum, "want": file.Hash,
		}).Warn("stale download, hash mismatch")
		return false
	}
	return true
}

func unpack(file File, logger logrus.FieldLogger) error {
	dir := file.Dir
	if dir == "" {
		dir = "."
	}

	var cmd []string
	switch path.Ext(file.Name) {
	case ".zip":
		cmd = []string{"unzip", "-d", dir, "-o", file.Path()}
	case ".gz":
		cmd = []string{"tar", "-xzf", file.Path(), "-C", dir}
	case ".bz2":
		cmd = []string{"tar", "-xjf", file.Path(), "-C", dir}
	default:
		return nil
	}

	logger.WithField("file", file.Path()).Debug("unpacking")
	if err := exec.Command(cmd[0], cmd[1:]...).Run(); err != nil {
		return fmt.Errorf("unpacking %q: %w", file.Name, err)
	}
	return nil
}
