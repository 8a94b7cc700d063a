package model

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

const (
	padToken      = "<pad>"
	wordDelimiter = "|"
	bosToken      = "<s>"
	eosToken      = "</s>"
	unknownToken  = "<unk>"
)

// Tokenizer maps CTC class ids back to characters
type Tokenizer struct {
	tokens  []string
	blankID int
	special map[int]bool
}

// NewTokenizer builds a tokenizer from a token to id vocabulary. The
// vocabulary must contain the <pad> token, which doubles as the CTC blank.
func NewTokenizer(vocab map[string]int) (*Tokenizer, error) {
	if len(vocab) == 0 {
		return nil, fmt.Errorf("vocabulary is empty")
	}

	size := 0
	for tok, id := range vocab {
		if id < 0 {
			return nil, fmt.Errorf("token %q has negative id %d", tok, id)
		}
		if id+1 > size {
			size = id + 1
		}
	}

	t := &Tokenizer{
		tokens:  make([]string, size),
		blankID: -1,
		special: make(map[int]bool),
	}
	for tok, id := range vocab {
		if t.tokens[id] != "" {
			return nil, fmt.Errorf("id %d assigned to both %q and %q", id, t.tokens[id], tok)
		}
		t.tokens[id] = tok
		switch tok {
		case padToken:
			t.blankID = id
		case bosToken, eosToken, unknownToken:
			t.special[id] = true
		}
	}

	if t.blankID < 0 {
		return nil, fmt.Errorf("vocabulary has no %s token", padToken)
	}
	return t, nil
}

// LoadVocab reads a vocab.json file mapping tokens to ids
func LoadVocab(path string) (*Tokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vocabulary: %w", err)
	}

	var vocab map[string]int
	if err := json.Unmarshal(data, &vocab); err != nil {
		return nil, fmt.Errorf("failed to parse vocabulary %s: %w", path, err)
	}

	return NewTokenizer(vocab)
}

// Size returns the number of classes the tokenizer knows
func (t *Tokenizer) Size() int {
	return len(t.tokens)
}

// Decode collapses a greedy CTC path into text. Repeats are merged before
// blanks are removed, so a blank between two equal ids keeps both.
func (t *Tokenizer) Decode(ids []int) string {
	var b strings.Builder
	prev := -1
	for _, id := range ids {
		if id == prev {
			continue
		}
		prev = id

		if id == t.blankID || t.special[id] || id < 0 || id >= len(t.tokens) {
			continue
		}

		tok := t.tokens[id]
		if tok == wordDelimiter {
			b.WriteByte(' ')
			continue
		}
		b.WriteString(tok)
	}

	return strings.Join(strings.Fields(b.String()), " ")
}
