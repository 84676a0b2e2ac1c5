package processing

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter measures text in model tokens.
type TokenCounter interface {
	CountTokens(text string) int
}

// WordCounter approximates tokens by whitespace separated words.
type WordCounter struct{}

// CountTokens implements TokenCounter.
func (WordCounter) CountTokens(text string) int {
	return len(strings.Fields(text))
}

// TiktokenCounter counts tokens with a BPE encoding such as "cl100k_base".
type TiktokenCounter struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the named encoding. The BPE ranks are
// downloaded on first use and cached by tiktoken-go.
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return &TiktokenCounter{enc: enc}, nil
}

// CountTokens implements TokenCounter.
func (t *TiktokenCounter) CountTokens(text string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.enc.Encode(text, nil, nil))
}
