package ingest

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/docqa/docqa/internal/models"
)

// FrequencySummarizer is the no-LLM strategy: keywords come from normalized
// term frequencies with phrase detection, the abstract from frequency-ranked
// leading sentences.
type FrequencySummarizer struct {
	tokenPattern    *regexp.Regexp
	sentencePattern *regexp.Regexp
	stopwords       map[string]struct{}
}

// phraseBoost weights detected bigrams/trigrams above single words, since
// multi-word terms are typically more informative.
const (
	phraseBoost      = 1.5
	minTermFrequency = 2
	minTokenLen      = 3
	abstractWords    = 100
)

func NewFrequencySummarizer() *FrequencySummarizer {
	return &FrequencySummarizer{
		tokenPattern:    regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`),
		sentencePattern: regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`),
		stopwords:       defaultStopwords(),
	}
}

func (s *FrequencySummarizer) Summarize(_ context.Context, chunks []ChunkDescriptor) (*Summary, error) {
	if len(chunks) == 0 {
		return &Summary{}, nil
	}
	text := pageMarkerRe.ReplaceAllString(combineChunks(chunks, 1<<20), " ")

	return &Summary{
		Abstract: s.abstract(text),
		Keywords: s.keywords(text),
	}, nil
}

// keywords counts word and phrase frequencies, boosts phrases, drops terms
// below the minimum frequency, normalizes frequencies linearly into
// [0.1, 1.0], and sorts by weight with a phrase-preferring tie-break.
func (s *FrequencySummarizer) keywords(text string) []models.Keyword {
	words := s.tokens(text)

	freq := map[string]float64{}
	for _, w := range words {
		if s.skip(w) {
			continue
		}
		freq[w]++
	}

	// Bigrams and trigrams over the un-filtered token stream; a phrase with a
	// stopword inside it is still dropped.
	for n := 2; n <= 3; n++ {
		for i := 0; i+n <= len(words); i++ {
			gram := words[i : i+n]
			ok := true
			for _, w := range gram {
				if s.skip(w) {
					ok = false
					break
				}
			}
			if !ok {
				continue
			}
			freq[strings.Join(gram, " ")]++
		}
	}

	type scored struct {
		term string
		f    float64
	}
	var terms []scored
	minF, maxF := math.Inf(1), 0.0
	for term, f := range freq {
		if f < minTermFrequency {
			continue
		}
		if strings.Contains(term, " ") {
			f *= phraseBoost
		}
		terms = append(terms, scored{term, f})
		if f < minF {
			minF = f
		}
		if f > maxF {
			maxF = f
		}
	}
	if len(terms) == 0 {
		return nil
	}

	normalize := func(f float64) float64 {
		if maxF == minF {
			return 1.0
		}
		return 0.1 + 0.9*(f-minF)/(maxF-minF)
	}

	out := make([]models.Keyword, 0, len(terms))
	for _, t := range terms {
		out = append(out, models.Keyword{Term: t.term, Weight: normalize(t.f)})
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if math.Abs(a.Weight-b.Weight) <= 0.1 {
			aPhrase := strings.Contains(a.Term, " ")
			bPhrase := strings.Contains(b.Term, " ")
			if aPhrase != bPhrase {
				return aPhrase
			}
		}
		if a.Weight != b.Weight {
			return a.Weight > b.Weight
		}
		return a.Term < b.Term
	})

	if len(out) > MaxKeywords {
		out = out[:MaxKeywords]
	}
	return out
}

// abstract ranks sentences by normalized token frequency and keeps the best
// ones, in original order, up to roughly 100 words.
func (s *FrequencySummarizer) abstract(text string) string {
	sentences := s.sentencePattern.FindAllString(text, -1)
	if len(sentences) == 0 {
		return truncateWords(strings.TrimSpace(text), abstractWords)
	}

	freq := map[string]float64{}
	for _, sent := range sentences {
		for _, tok := range s.tokens(sent) {
			if s.skip(tok) {
				continue
			}
			freq[tok]++
		}
	}
	maxF := 0.0
	for _, v := range freq {
		if v > maxF {
			maxF = v
		}
	}
	if maxF > 0 {
		for k, v := range freq {
			freq[k] = v / maxF
		}
	}

	type pair struct {
		idx   int
		score float64
	}
	scores := make([]pair, len(sentences))
	for i, sent := range sentences {
		toks := s.tokens(sent)
		score := 0.0
		for _, tok := range toks {
			score += freq[tok]
		}
		if l := float64(len(toks)); l > 0 {
			score /= math.Sqrt(l)
		}
		scores[i] = pair{i, score}
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	var selected []int
	words := 0
	for _, p := range scores {
		n := len(strings.Fields(sentences[p.idx]))
		if words > 0 && words+n > abstractWords {
			continue
		}
		selected = append(selected, p.idx)
		words += n
		if words >= abstractWords {
			break
		}
	}
	sort.Ints(selected)

	var out []string
	for _, idx := range selected {
		out = append(out, strings.TrimSpace(sentences[idx]))
	}
	return strings.Join(out, " ")
}

func (s *FrequencySummarizer) tokens(text string) []string {
	return s.tokenPattern.FindAllString(strings.ToLower(text), -1)
}

func (s *FrequencySummarizer) skip(tok string) bool {
	if len(tok) < minTokenLen {
		return true
	}
	_, stop := s.stopwords[tok]
	return stop
}

func truncateWords(text string, max int) string {
	fields := strings.Fields(text)
	if len(fields) <= max {
		return text
	}
	return strings.Join(fields[:max], " ")
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at",
		"by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that",
		"these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so",
		"such", "into", "about", "between", "through", "during", "before", "after", "above", "below",
		"out", "off", "own", "same", "too", "very", "can", "will", "just", "not", "has", "have", "had",
		"its", "they", "them", "their", "there", "here", "when", "where", "which", "while", "what",
		"who", "whom", "how", "all", "any", "both", "each", "few", "more", "most", "other", "some",
		"nor", "only", "you", "your", "his", "her", "she", "him", "did", "does", "doing", "should",
		"would", "could", "may", "might", "must", "shall", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

var _ Summarizer = (*FrequencySummarizer)(nil)
