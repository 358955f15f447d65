package snapshot

import (
	"encoding/base64"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// assetRef matches the app's internal resource URLs for images. The path
// submatch is a local filesystem path.
var assetRef = regexp.MustCompile(`(?i)vscode-file://vscode-app(/[^"'\s)]+\.(?:svg|png|jpe?g|gif))`)

var imageTypes = map[string]string{
	".svg":  "image/svg+xml",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
}

// AssetInliner rewrites internal image references into data URIs so that
// viewers without access to the app's filesystem can render them.
type AssetInliner struct {
	mu    sync.Mutex
	cache map[string]string

	readFile func(string) ([]byte, error)
}

// NewAssetInliner creates an inliner reading from the local filesystem.
func NewAssetInliner() *AssetInliner {
	return &AssetInliner{
		cache:    make(map[string]string),
		readFile: os.ReadFile,
	}
}

// Apply rewrites every markup and stylesheet field of s.
func (a *AssetInliner) Apply(s *Snapshot) {
	s.HTML = a.Rewrite(s.HTML)
	s.ControlsHTML = a.Rewrite(s.ControlsHTML)
	s.CSS = a.Rewrite(s.CSS)
}

// Rewrite replaces references whose file exists. Anything unreadable is left
// untouched.
func (a *AssetInliner) Rewrite(text string) string {
	if !strings.Contains(text, "vscode-file://") {
		return text
	}
	return assetRef.ReplaceAllStringFunc(text, func(match string) string {
		sub := assetRef.FindStringSubmatch(match)
		if len(sub) < 2 {
			return match
		}
		if uri, ok := a.dataURI(sub[1]); ok {
			return uri
		}
		return match
	})
}

func (a *AssetInliner) dataURI(rawPath string) (string, bool) {
	path, err := url.PathUnescape(rawPath)
	if err != nil {
		return "", false
	}

	a.mu.Lock()
	cached, ok := a.cache[path]
	a.mu.Unlock()
	if ok {
		return cached, true
	}

	data, err := a.readFile(filepath.FromSlash(path))
	if err != nil {
		return "", false
	}

	mime := imageTypes[strings.ToLower(filepath.Ext(path))]
	uri := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)

	a.mu.Lock()
	a.cache[path] = uri
	a.mu.Unlock()
	return uri, true
}
