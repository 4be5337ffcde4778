package utils

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
	codecErr  error
)

// CountTokens returns the cl100k token count of text. It falls back to a
// four-characters-per-token estimate if the codec cannot be loaded.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}

	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	if codecErr == nil {
		if ids, _, err := codec.Encode(text); err == nil {
			return len(ids)
		}
	}

	return (len([]rune(text)) + 3) / 4
}
