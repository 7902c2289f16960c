// Package textvec implements TF-IDF vectorization of short text documents:
// lowercased word tokens, English stop-word removal, document-frequency
// pruning, a capped vocabulary and l2-normalized rows.
package textvec

import (
	"errors"
	"math"
	"regexp"
	"sort"
	"strings"
)

// ErrEmptyVocabulary is returned when pruning leaves no usable terms. The
// caller treats it as a documented no-op, not a failure.
var ErrEmptyVocabulary = errors.New("textvec: empty vocabulary after pruning")

// Tokens are runs of two or more word characters.
var tokenRegex = regexp.MustCompile(`\w\w+`)

// Options tune the vectorizer. Zero values mean no limit.
type Options struct {
	// MaxFeatures caps the vocabulary, keeping the terms with the highest
	// collection frequency.
	MaxFeatures int
	// MaxDocFreq drops terms appearing in more than this fraction of
	// documents.
	MaxDocFreq float64
}

// Vectorizer holds a fitted vocabulary.
type Vectorizer struct {
	// Terms is the vocabulary in sorted order; column i of any matrix row
	// corresponds to Terms[i].
	Terms []string
	idf   []float64
	index map[string]int
}

// Fit learns a vocabulary from docs and returns the fitted vectorizer along
// with the TF-IDF matrix of the fitting documents.
func Fit(docs []string, opts Options) (*Vectorizer, [][]float64, error) {
	n := len(docs)
	tokenized := make([][]string, n)
	df := map[string]int{}
	cf := map[string]int{}
	for i, doc := range docs {
		toks := tokenize(doc)
		tokenized[i] = toks
		seen := map[string]bool{}
		for _, t := range toks {
			cf[t]++
			if !seen[t] {
				seen[t] = true
				df[t]++
			}
		}
	}

	maxDF := n
	if opts.MaxDocFreq > 0 {
		maxDF = int(opts.MaxDocFreq * float64(n))
	}
	kept := make([]string, 0, len(df))
	for term, d := range df {
		if d > maxDF {
			continue
		}
		kept = append(kept, term)
	}
	if opts.MaxFeatures > 0 && len(kept) > opts.MaxFeatures {
		// Highest collection frequency wins; ties break alphabetically.
		sort.Slice(kept, func(i, j int) bool {
			if cf[kept[i]] != cf[kept[j]] {
				return cf[kept[i]] > cf[kept[j]]
			}
			return kept[i] < kept[j]
		})
		kept = kept[:opts.MaxFeatures]
	}
	if len(kept) == 0 {
		return nil, nil, ErrEmptyVocabulary
	}
	sort.Strings(kept)

	index := make(map[string]int, len(kept))
	for i, t := range kept {
		index[t] = i
	}
	idf := make([]float64, len(kept))
	for i, t := range kept {
		// Smoothed idf: ln((1+n)/(1+df)) + 1.
		idf[i] = math.Log(float64(1+n)/float64(1+df[t])) + 1
	}

	v := &Vectorizer{Terms: kept, idf: idf, index: index}
	matrix := make([][]float64, n)
	for i, toks := range tokenized {
		matrix[i] = v.row(toks)
	}
	return v, matrix, nil
}

// Transform vectorizes a document with the fitted vocabulary.
func (v *Vectorizer) Transform(doc string) []float64 {
	return v.row(tokenize(doc))
}

func (v *Vectorizer) row(tokens []string) []float64 {
	out := make([]float64, len(v.Terms))
	for _, t := range tokens {
		if i, ok := v.index[t]; ok {
			out[i]++
		}
	}
	norm := 0.0
	for i := range out {
		out[i] *= v.idf[i]
		norm += out[i] * out[i]
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range out {
			out[i] /= norm
		}
	}
	return out
}

func tokenize(doc string) []string {
	var out []string
	for _, t := range tokenRegex.FindAllString(strings.ToLower(doc), -1) {
		if stopWords[t] {
			continue
		}
		out = append(out, t)
	}
	return out
}
