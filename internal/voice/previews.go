package voice

import (
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Previews hands out URLs for finished recordings so a player can address
// them. A URL stays resolvable until it is revoked.
type Previews struct {
	base  string
	mu    sync.RWMutex
	items map[string]preview
}

type preview struct {
	data        []byte
	contentType string
}

// NewPreviews creates a registry whose URLs are rooted at baseURL.
func NewPreviews(baseURL string) *Previews {
	return &Previews{
		base:  strings.TrimRight(baseURL, "/"),
		items: make(map[string]preview),
	}
}

// Create registers data and returns its preview URL.
func (p *Previews) Create(data []byte, contentType string) string {
	id := uuid.NewString()
	p.mu.Lock()
	p.items[id] = preview{data: data, contentType: contentType}
	p.mu.Unlock()
	return p.base + "/" + id
}

// Revoke releases the preview behind url. Unknown URLs are ignored.
func (p *Previews) Revoke(url string) {
	if url == "" {
		return
	}
	p.mu.Lock()
	delete(p.items, path.Base(url))
	p.mu.Unlock()
}

// Resolve looks up a preview by its ID (the last URL segment).
func (p *Previews) Resolve(id string) ([]byte, string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	item, ok := p.items[id]
	return item.data, item.contentType, ok
}

// Len returns the number of live previews.
func (p *Previews) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.items)
}
