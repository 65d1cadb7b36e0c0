package signature

import (
	"crypto/sha256"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedExtractor memoises parsed signatures by source digest. Parse errors
// are not cached.
type CachedExtractor struct {
	next  Extractor
	cache *lru.Cache[[sha256.Size]byte, Signature]
}

// NewCachedExtractor wraps next (Parser if nil) with an LRU cache of size
// entries
func NewCachedExtractor(size int, next Extractor) (*CachedExtractor, error) {
	if next == nil {
		next = Parser{}
	}
	cache, err := lru.New[[sha256.Size]byte, Signature](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create signature cache: %w", err)
	}
	return &CachedExtractor{next: next, cache: cache}, nil
}

func (c *CachedExtractor) Extract(source string) (*Signature, error) {
	key := sha256.Sum256([]byte(source))
	if sig, ok := c.cache.Get(key); ok {
		return sig.clone(), nil
	}
	sig, err := c.next.Extract(source)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, *sig.clone())
	return sig, nil
}

// Len returns the number of cached signatures
func (c *CachedExtractor) Len() int {
	return c.cache.Len()
}

func (s *Signature) clone() *Signature {
	out := &Signature{Name: s.Name, Args: make([]ArgDescriptor, len(s.Args))}
	copy(out.Args, s.Args)
	return out
}
