// Package archive assembles the image pipeline's .tar.gz artifact.
package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/sitegrab/sitegrab/internal/images"
)

// FolderName derives the archive's single top-level folder from the target
// host. Unsafe characters become dashes.
func FolderName(rawURL string) string {
	host := "site"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = strings.ToLower(u.Hostname())
	}
	var b strings.Builder
	for _, r := range host {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String() + "-images"
}

// Build streams the registry's payloads into w as a gzip-compressed tar.
// Entries must already be ordered; names are zero-padded in that order so
// listing the archive reproduces it. Any write or finalize failure is
// returned; a partial archive is never valid.
func Build(w io.Writer, folder string, entries []images.Entry) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)
	now := time.Now().UTC()

	if err := tw.WriteHeader(&tar.Header{
		Name:     folder + "/",
		Typeflag: tar.TypeDir,
		Mode:     0o755,
		ModTime:  now,
	}); err != nil {
		return fmt.Errorf("write folder header: %w", err)
	}

	for i, entry := range entries {
		name := fmt.Sprintf("%s/img-%04d%s", folder, i+1, entry.Ext)
		if err := writeEntry(tw, name, entry, now); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("finalize tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("finalize gzip: %w", err)
	}
	return nil
}

func writeEntry(tw *tar.Writer, name string, entry images.Entry, mod time.Time) error {
	f, err := os.Open(entry.Path)
	if err != nil {
		return fmt.Errorf("open payload %s: %w", entry.Key, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat payload %s: %w", entry.Key, err)
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:    name,
		Size:    info.Size(),
		Mode:    0o644,
		ModTime: mod,
	}); err != nil {
		return fmt.Errorf("write header %s: %w", name, err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("write payload %s: %w", name, err)
	}
	return nil
}
