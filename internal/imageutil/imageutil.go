// Package imageutil normalizes the three image input forms the pipeline
// accepts: raw bytes, a local file path, or an http(s) URL.
package imageutil

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Source is an image input. Exactly one of Bytes or Ref should be set; Ref is
// either a local path or an http(s) URL.
type Source struct {
	Bytes []byte
	Ref   string
}

// FromBytes wraps raw image bytes.
func FromBytes(data []byte) Source { return Source{Bytes: data} }

// FromRef wraps a local path or URL.
func FromRef(ref string) Source { return Source{Ref: ref} }

// IsRemote reports whether the source is an http(s) URL.
func (s Source) IsRemote() bool {
	return strings.HasPrefix(s.Ref, "http://") || strings.HasPrefix(s.Ref, "https://")
}

var mimeByExtension = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
}

// MimeForPath infers a mime type from the file extension. Unsupported
// extensions default to JPEG.
func MimeForPath(path string) string {
	if mime, ok := mimeByExtension[strings.ToLower(filepath.Ext(path))]; ok {
		return mime
	}
	return "image/jpeg"
}

var fetchClient = &http.Client{Timeout: 30 * time.Second}

// Load resolves the source to raw bytes: in-memory bytes are returned as-is,
// URLs are fetched over HTTP, paths are read from disk.
func Load(ctx context.Context, s Source) ([]byte, error) {
	if s.Bytes != nil {
		return s.Bytes, nil
	}
	if s.Ref == "" {
		return nil, fmt.Errorf("empty image source")
	}
	if s.IsRemote() {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.Ref, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create image request: %w", err)
		}
		resp, err := fetchClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch image %s: %w", s.Ref, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("image fetch %s returned status %d", s.Ref, resp.StatusCode)
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read image body: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(s.Ref)
	if err != nil {
		return nil, fmt.Errorf("failed to read image file: %w", err)
	}
	return data, nil
}

// DataURI encodes the source as a base64 data URI for vision API requests.
// Remote URLs are passed through untouched so the provider fetches them.
func DataURI(ctx context.Context, s Source) (string, error) {
	if s.IsRemote() {
		return s.Ref, nil
	}
	mime := "image/jpeg"
	if s.Bytes == nil && s.Ref != "" {
		mime = MimeForPath(s.Ref)
	}
	data, err := Load(ctx, s)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data)), nil
}
