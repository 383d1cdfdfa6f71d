package aggregator

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"newsfeed/internal/domain/entity"
)

// stopWords suppresses common particles that would otherwise dominate the
// term-frequency vectors without carrying topical signal. The set is
// deliberately small: a handful of high-frequency CJK particles plus the
// commonest English function words, matched to whichever language the
// clustered text is written in.
var stopWords = map[string]struct{}{
	"的": {}, "了": {}, "和": {}, "是": {}, "在": {}, "有": {}, "为": {},
	"与": {}, "等": {}, "这": {}, "那": {}, "也": {}, "中": {}, "上": {}, "下": {},
	"the": {}, "a": {}, "an": {}, "is": {}, "in": {}, "of": {}, "to": {},
	"and": {}, "for": {}, "on": {}, "that": {}, "this": {}, "with": {}, "at": {},
}

// similarity scores two items' title+summary text by TF-IDF cosine
// similarity over the pair's own two-document corpus. When either text
// tokenizes to nothing (degenerate input: empty, punctuation-only, or
// entirely stopwords), it falls back to a longest-common-subsequence ratio
// over the raw titles.
func similarity(a, b entity.NewsItem) float64 {
	tokensA := filterStopWords(tokenize(combinedText(a)))
	tokensB := filterStopWords(tokenize(combinedText(b)))
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return lcsRatio(a.Title, b.Title)
	}

	tfA := termFrequency(tokensA)
	tfB := termFrequency(tokensB)

	vocab := make(map[string]struct{}, len(tfA)+len(tfB))
	for term := range tfA {
		vocab[term] = struct{}{}
	}
	for term := range tfB {
		vocab[term] = struct{}{}
	}

	var dot, normA, normB float64
	for term := range vocab {
		df := 0
		if _, ok := tfA[term]; ok {
			df++
		}
		if _, ok := tfB[term]; ok {
			df++
		}
		// Smoothed idf over the pair's 2-document corpus.
		idf := math.Log(3.0/float64(1+df)) + 1
		wA := tfA[term] * idf
		wB := tfB[term] * idf
		dot += wA * wB
		normA += wA * wA
		normB += wB * wB
	}

	if normA == 0 || normB == 0 {
		return lcsRatio(a.Title, b.Title)
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func combinedText(item entity.NewsItem) string {
	if item.Summary == "" {
		return item.Title
	}
	return item.Title + " " + item.Summary
}

func termFrequency(tokens []string) map[string]float64 {
	counts := make(map[string]float64, len(tokens))
	for _, t := range tokens {
		counts[t]++
	}
	total := float64(len(tokens))
	for t, c := range counts {
		counts[t] = c / total
	}
	return counts
}

// tokenize splits text into lowercase tokens. Runs of Latin letters/digits
// form one token each; CJK runes (Han, Hiragana, Katakana, Hangul) are
// emitted one rune per token, since those scripts do not use whitespace to
// separate words.
func tokenize(text string) []string {
	var tokens []string
	var buf []rune

	flush := func() {
		if len(buf) > 0 {
			tokens = append(tokens, strings.ToLower(string(buf)))
			buf = buf[:0]
		}
	}

	for _, r := range text {
		switch {
		case isCJK(r):
			flush()
			tokens = append(tokens, string(unicode.ToLower(r)))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			buf = append(buf, r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

func filterStopWords(tokens []string) []string {
	out := tokens[:0:0]
	for _, t := range tokens {
		if _, stop := stopWords[t]; stop {
			continue
		}
		out = append(out, t)
	}
	return out
}

// lcsRatio mirrors difflib's SequenceMatcher.ratio: 2*matches/(len(a)+len(b))
// where matches is the longest common subsequence length over runes.
func lcsRatio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 && len(rb) == 0 {
		return 1.0
	}
	if len(ra) == 0 || len(rb) == 0 {
		return 0.0
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			if ra[i-1] == rb[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	lcs := prev[len(rb)]
	return 2 * float64(lcs) / float64(len(ra)+len(rb))
}

// extractKeywords picks the keywordCount most frequent non-stopword tokens
// across a cluster's main and related item text.
func extractKeywords(c *entity.Cluster) []string {
	var text strings.Builder
	text.WriteString(combinedText(c.MainItem))
	for _, item := range c.RelatedItems {
		text.WriteByte(' ')
		text.WriteString(combinedText(item))
	}

	tokens := filterStopWords(tokenize(text.String()))
	if len(tokens) == 0 {
		return nil
	}

	counts := make(map[string]int, len(tokens))
	for _, t := range tokens {
		counts[t]++
	}

	unique := make([]string, 0, len(counts))
	for t := range counts {
		unique = append(unique, t)
	}
	sort.SliceStable(unique, func(i, j int) bool {
		if counts[unique[i]] != counts[unique[j]] {
			return counts[unique[i]] > counts[unique[j]]
		}
		return unique[i] < unique[j]
	})

	if len(unique) > keywordCount {
		unique = unique[:keywordCount]
	}
	return unique
}
