package ingestion

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/yargevad/filepathx"
)

// DefaultPattern matches every .txt file below the root directory.
const DefaultPattern = "**/*.txt"

// maxFetchBytes caps the body read by LoadURL. Larger documents are
// rejected, never truncated.
const maxFetchBytes = 16 << 20

// LoadFile reads one plain-text file. The document file name is the base
// name of path.
func LoadFile(path string) (Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Source{}, fmt.Errorf("ingestion: read %s: %w", path, err)
	}
	if !utf8.Valid(data) {
		return Source{}, fmt.Errorf("ingestion: %s is not valid UTF-8 text", path)
	}
	return Source{FileName: filepath.Base(path), Contents: string(data)}, nil
}

// LoadDir reads every regular file below root that matches pattern, in
// lexical path order. An empty pattern selects DefaultPattern. Patterns may
// use ** to match any number of directories.
//
// A file that cannot be read or is not UTF-8 text is returned as a Failure
// at StageLoad and the remaining files are still loaded. The error is
// reserved for problems with root or pattern.
func LoadDir(root, pattern string) ([]Source, []Failure, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, nil, fmt.Errorf("ingestion: %w", err)
	}
	if !info.IsDir() {
		return nil, nil, fmt.Errorf("ingestion: %s is not a directory", root)
	}

	matches, err := filepathx.Glob(filepath.Join(root, pattern))
	if err != nil {
		return nil, nil, fmt.Errorf("ingestion: invalid pattern %q: %w", pattern, err)
	}
	sort.Strings(matches)

	var failed []Failure

	sources := make([]Source, 0, len(matches))
	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		if seen[m] {
			continue
		}
		seen[m] = true
		fi, err := os.Stat(m)
		if err != nil {
			failed = append(failed, Failure{FileName: m, Stage: StageLoad, Err: fmt.Errorf("ingestion: %w", err)})
			continue
		}
		if !fi.Mode().IsRegular() {
			continue
		}
		src, err := LoadFile(m)
		if err != nil {
			failed = append(failed, Failure{FileName: m, Stage: StageLoad, Err: err})
			continue
		}
		sources = append(sources, src)
	}
	return sources, failed, nil
}

// LoadURL fetches a plain-text document over HTTP(S). The document file
// name is the last segment of the URL path. Non-text content types are
// rejected. A nil client selects one with a 30s timeout.
func LoadURL(ctx context.Context, client *http.Client, rawURL string) (Source, error) {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return Source{}, fmt.Errorf("ingestion: %q is not an http(s) URL", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Source{}, fmt.Errorf("ingestion: creating request: %w", err)
	}
	req.Header.Set("User-Agent", "ragdoc/1.0 (document ingestion)")
	req.Header.Set("Accept", "text/plain")

	resp, err := client.Do(req)
	if err != nil {
		return Source{}, fmt.Errorf("ingestion: http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Source{}, fmt.Errorf("ingestion: unexpected status %d for %s", resp.StatusCode, rawURL)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil || !strings.HasPrefix(mt, "text/") {
			return Source{}, fmt.Errorf("ingestion: %s has content type %q, want text/*", rawURL, ct)
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return Source{}, fmt.Errorf("ingestion: reading body: %w", err)
	}
	if len(body) > maxFetchBytes {
		return Source{}, fmt.Errorf("ingestion: %s exceeds the %d MiB fetch limit", rawURL, maxFetchBytes>>20)
	}
	if !utf8.Valid(body) {
		return Source{}, fmt.Errorf("ingestion: %s is not valid UTF-8 text", rawURL)
	}

	name := path.Base(u.Path)
	if name == "/" || name == "." {
		name = u.Host
	}
	return Source{FileName: name, Contents: string(body)}, nil
}
