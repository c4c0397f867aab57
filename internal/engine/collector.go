package engine

import (
	"fmt"
	"math/rand/v2"

	"github.com/mbertin/ardoise/internal/model"
	"github.com/mbertin/ardoise/internal/textnorm"
)

// Outcome is a collector's verdict on one submitted value.
type Outcome struct {
	Correct      bool
	ItemComplete bool
}

// Collector validates submissions for one input modality. Progression
// decisions (advance, reset, reject) belong to the engine's policy; a
// collector only knows how to judge a value against the current item.
type Collector interface {
	Kind() model.CollectorKind
	// Begin prepares the collector for a new item (shuffles pools, clears
	// assembly progress).
	Begin(item model.Item)
	// Evaluate judges one submitted value and records internal progress for
	// assembly collectors.
	Evaluate(value string) Outcome
	// Reset clears in-progress assembly for the current item.
	Reset()
	// Pool returns the selectable values still available (shuffled options
	// for choice, remaining tokens for assembly), or nil for free text.
	Pool() []string
	// Progress returns the tokens accepted so far for the current item.
	Progress() []string
}

// NewCollector returns the collector for a kind.
func NewCollector(kind model.CollectorKind) (Collector, error) {
	switch kind {
	case model.CollectorChoice:
		return &choiceCollector{}, nil
	case model.CollectorFreeText:
		return &freeTextCollector{}, nil
	case model.CollectorTokenAssembly:
		return &assemblyCollector{kind: model.CollectorTokenAssembly}, nil
	case model.CollectorOrdering:
		return &assemblyCollector{kind: model.CollectorOrdering}, nil
	default:
		return nil, fmt.Errorf("unknown collector kind %q", kind)
	}
}

// freeTextCollector compares typed answers; one submit resolves the item.
type freeTextCollector struct {
	answer string
}

func (c *freeTextCollector) Kind() model.CollectorKind { return model.CollectorFreeText }
func (c *freeTextCollector) Begin(item model.Item)     { c.answer = item.Answer }
func (c *freeTextCollector) Reset()                    {}
func (c *freeTextCollector) Pool() []string            { return nil }
func (c *freeTextCollector) Progress() []string        { return nil }

func (c *freeTextCollector) Evaluate(value string) Outcome {
	ok := textnorm.Equal(value, c.answer)
	return Outcome{Correct: ok, ItemComplete: ok}
}

// choiceCollector presents shuffled options with the correct answer present
// exactly once; one tap resolves the item.
type choiceCollector struct {
	answer  string
	options []string
}

func (c *choiceCollector) Kind() model.CollectorKind { return model.CollectorChoice }
func (c *choiceCollector) Reset()                    {}
func (c *choiceCollector) Progress() []string        { return nil }

func (c *choiceCollector) Begin(item model.Item) {
	c.answer = item.Answer
	c.options = c.options[:0]
	for _, opt := range item.Options {
		if !textnorm.Equal(opt, item.Answer) {
			c.options = append(c.options, opt)
		}
	}
	c.options = append(c.options, item.Answer)
	rand.Shuffle(len(c.options), func(i, j int) {
		c.options[i], c.options[j] = c.options[j], c.options[i]
	})
}

func (c *choiceCollector) Pool() []string {
	out := make([]string, len(c.options))
	copy(out, c.options)
	return out
}

func (c *choiceCollector) Evaluate(value string) Outcome {
	ok := textnorm.Equal(value, c.answer)
	return Outcome{Correct: ok, ItemComplete: ok}
}

// assemblyCollector accepts tokens one at a time in the required order. It
// backs both token assembly (syllables, letters) and ordering games; the two
// differ only in the engine policy applied to wrong picks.
type assemblyCollector struct {
	kind     model.CollectorKind
	expected []string
	pool     []string
	progress int
}

func (c *assemblyCollector) Kind() model.CollectorKind { return c.kind }

func (c *assemblyCollector) Begin(item model.Item) {
	c.expected = itemTokens(item)
	c.progress = 0
	c.shufflePool()
}

func (c *assemblyCollector) shufflePool() {
	c.pool = append(c.pool[:0], c.expected[c.progress:]...)
	rand.Shuffle(len(c.pool), func(i, j int) {
		c.pool[i], c.pool[j] = c.pool[j], c.pool[i]
	})
}

func (c *assemblyCollector) Evaluate(value string) Outcome {
	if c.progress >= len(c.expected) {
		return Outcome{}
	}
	if !textnorm.Equal(value, c.expected[c.progress]) {
		return Outcome{Correct: false}
	}
	c.progress++
	c.removeFromPool(value)
	return Outcome{Correct: true, ItemComplete: c.progress == len(c.expected)}
}

func (c *assemblyCollector) removeFromPool(value string) {
	for i, tok := range c.pool {
		if textnorm.Equal(tok, value) {
			c.pool = append(c.pool[:i], c.pool[i+1:]...)
			return
		}
	}
}

func (c *assemblyCollector) Reset() {
	c.progress = 0
	c.shufflePool()
}

func (c *assemblyCollector) Pool() []string {
	out := make([]string, len(c.pool))
	copy(out, c.pool)
	return out
}

func (c *assemblyCollector) Progress() []string {
	out := make([]string, c.progress)
	copy(out, c.expected[:c.progress])
	return out
}

// itemTokens returns the ordered token list for an item: explicit tokens if
// the pack provides them, otherwise one token per letter of the answer.
func itemTokens(item model.Item) []string {
	if len(item.Tokens) > 0 {
		out := make([]string, len(item.Tokens))
		copy(out, item.Tokens)
		return out
	}
	var out []string
	for _, r := range item.Answer {
		out = append(out, string(r))
	}
	return out
}
