package media

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

const (
	// RegistryVersion is the current schema version.
	RegistryVersion = 1

	// RegistryFilename is the registry file inside a media directory.
	RegistryFilename = "manifest.json"
)

var reUnsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Registry maps local media file names to the URLs they were downloaded
// from. It is the single owner of a media directory's namespace, so two
// URLs never share a file name.
type Registry struct {
	Version int               `json:"version"`
	Files   map[string]string `json:"files"`

	mu    sync.RWMutex
	byURL map[string]string
	dirty bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		Version: RegistryVersion,
		Files:   make(map[string]string),
		byURL:   make(map[string]string),
	}
}

// LoadRegistry reads a registry from disk, or creates a new one if it doesn't exist.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewRegistry(), nil
		}
		return nil, fmt.Errorf("failed to read media registry: %w", err)
	}

	var r Registry
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse media registry: %w", err)
	}
	if r.Version > RegistryVersion {
		return nil, fmt.Errorf("media registry version %d is newer than supported version %d", r.Version, RegistryVersion)
	}
	if r.Files == nil {
		r.Files = make(map[string]string)
	}
	r.Version = RegistryVersion
	r.byURL = make(map[string]string, len(r.Files))
	for name, u := range r.Files {
		r.byURL[u] = name
	}
	return &r, nil
}

// Save writes the registry to disk atomically if it changed since it was loaded.
func (r *Registry) Save(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.dirty {
		return nil
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal media registry: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create media directory: %w", err)
	}
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write media registry temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename media registry file: %w", err)
	}
	r.dirty = false
	return nil
}

// Lookup returns the file name recorded for a URL.
func (r *Registry) Lookup(rawURL string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.byURL[rawURL]
	return name, ok
}

// NameFor returns the file name for a URL, allocating one if the URL is new.
// New names derive from the URL's last path segment; a name already owned by
// another URL gets an 8 hex digit URL hash before the extension.
func (r *Registry) NameFor(rawURL string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name, ok := r.byURL[rawURL]; ok {
		return name
	}

	base, ext := baseName(rawURL)
	hash := urlHash(rawURL)
	candidates := []string{base + ext, base + "-" + hash + ext}
	if base == "" {
		candidates = []string{"media-" + hash + ext}
	}
	name := ""
	for _, c := range candidates {
		if r.available(c) {
			name = c
			break
		}
	}
	for n := 2; name == ""; n++ {
		c := fmt.Sprintf("%s-%s-%d%s", base, hash, n, ext)
		if r.available(c) {
			name = c
		}
	}

	r.Files[name] = rawURL
	r.byURL[rawURL] = name
	r.dirty = true
	return name
}

func (r *Registry) available(name string) bool {
	if name == RegistryFilename || name == RegistryFilename+".tmp" {
		return false
	}
	_, taken := r.Files[name]
	return !taken
}

// Len returns the number of registered files.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.Files)
}

// baseName splits a URL's last path segment into a file-system-safe stem
// and a lowercased extension.
func baseName(rawURL string) (string, string) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", ""
	}
	seg := path.Base(u.Path)
	if seg == "." || seg == "/" {
		return "", ""
	}
	ext := strings.ToLower(path.Ext(seg))
	stem := strings.TrimSuffix(seg, path.Ext(seg))
	stem = strings.Trim(reUnsafeName.ReplaceAllString(stem, "-"), "-.")
	ext = reUnsafeName.ReplaceAllString(ext, "")
	if len(stem) > 100 {
		stem = stem[:100]
	}
	return stem, ext
}

func urlHash(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:])[:8]
}
