package tokenizer

import (
	"fmt"
	"os"
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"chat-token-budget/internal/domain/ports/adapter"
)

const (
	EncodingO200K  = "o200k_base"
	EncodingCL100K = "cl100k_base"
)

// encoder is the subset of *tiktoken.Tiktoken used for counting.
type encoder interface {
	Encode(text string, allowedSpecial []string, disallowedSpecial []string) []int
}

var _ adapter.TokenCounter = (*TiktokenCounter)(nil)

// TiktokenCounter counts BPE tokens with a shared, read-only encoder.
type TiktokenCounter struct {
	enc      encoder
	encoding string
}

func (c *TiktokenCounter) Encoding() string { return c.encoding }

// Count converts encoder panics into errors so callers can fall back.
func (c *TiktokenCounter) Count(text string) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tiktoken %s: %v", c.encoding, r)
		}
	}()
	return len(c.enc.Encode(text, nil, nil)), nil
}

// EncodingForModel maps a chat model to its tokenizer family.
func EncodingForModel(modelName string) string {
	if strings.HasPrefix(modelName, "gpt-4o") || strings.HasPrefix(modelName, "o1") || strings.HasPrefix(modelName, "o3") {
		return EncodingO200K
	}
	return EncodingCL100K
}

type cacheEntry struct {
	enc encoder
	err error
}

// Cache loads each encoding at most once. Loaded encoders are never mutated
// and are shared by every counter of the same family.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	load    func(encoding string) (encoder, error)
}

// NewCache returns a cache backed by tiktoken-go. cacheDir, when set, is where
// tiktoken keeps downloaded BPE ranks.
func NewCache(cacheDir string) *Cache {
	if cacheDir != "" {
		_ = os.Setenv("TIKTOKEN_CACHE_DIR", cacheDir)
	}
	return &Cache{
		entries: make(map[string]cacheEntry),
		load: func(encoding string) (encoder, error) {
			return tiktoken.GetEncoding(encoding)
		},
	}
}

// CounterForModel returns a TiktokenCounter for the model's encoding. Load
// failures are remembered so an unavailable tokenizer is only tried once.
func (c *Cache) CounterForModel(modelName string) (*TiktokenCounter, error) {
	encoding := EncodingForModel(modelName)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[encoding]
	if !ok {
		enc, err := c.load(encoding)
		e = cacheEntry{enc: enc, err: err}
		c.entries[encoding] = e
	}
	if e.err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", encoding, e.err)
	}
	return &TiktokenCounter{enc: e.enc, encoding: encoding}, nil
}
