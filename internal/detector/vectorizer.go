package detector

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// palavras com 2+ caracteres, como o token_pattern clássico de tf-idf
var tokenRE = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

// ngrams returns unigrams followed by bigrams of the lower-cased message.
func ngrams(msg string) []string {
	toks := tokenRE.FindAllString(strings.ToLower(msg), -1)
	if len(toks) == 0 {
		return nil
	}
	out := make([]string, 0, 2*len(toks)-1)
	out = append(out, toks...)
	for i := 0; i+1 < len(toks); i++ {
		out = append(out, toks[i]+" "+toks[i+1])
	}
	return out
}

// vocabulary is a fitted tf-idf vector space.
type vocabulary struct {
	terms []string
	idf   []float64
	index map[string]int
}

func newVocabulary(terms []string, idf []float64) *vocabulary {
	idx := make(map[string]int, len(terms))
	for i, t := range terms {
		idx[t] = i
	}
	return &vocabulary{terms: terms, idf: idf, index: idx}
}

// fitVocabulary keeps the maxFeatures most frequent n-grams (ties broken
// alphabetically), indexes them in alphabetical order and computes smoothed
// idf = ln((1+n)/(1+df)) + 1.
func fitVocabulary(docs [][]string, maxFeatures int) *vocabulary {
	tf := map[string]int{}
	df := map[string]int{}
	for _, grams := range docs {
		seen := map[string]bool{}
		for _, g := range grams {
			tf[g]++
			if !seen[g] {
				df[g]++
				seen[g] = true
			}
		}
	}
	terms := make([]string, 0, len(tf))
	for t := range tf {
		terms = append(terms, t)
	}
	if maxFeatures > 0 && len(terms) > maxFeatures {
		sort.Slice(terms, func(i, j int) bool {
			if tf[terms[i]] != tf[terms[j]] {
				return tf[terms[i]] > tf[terms[j]]
			}
			return terms[i] < terms[j]
		})
		terms = terms[:maxFeatures]
	}
	sort.Strings(terms)

	n := float64(len(docs))
	idf := make([]float64, len(terms))
	for i, t := range terms {
		idf[i] = math.Log((1+n)/(1+float64(df[t]))) + 1
	}
	return newVocabulary(terms, idf)
}

// transform builds the l2-normalised tf-idf vector. Out-of-vocabulary
// n-grams are dropped; a message with no known term yields the zero vector.
func (v *vocabulary) transform(grams []string) []float64 {
	vec := make([]float64, len(v.terms))
	for _, g := range grams {
		if i, ok := v.index[g]; ok {
			vec[i]++
		}
	}
	for i := range vec {
		vec[i] *= v.idf[i]
	}
	if n := norm(vec); n > 0 {
		for i := range vec {
			vec[i] /= n
		}
	}
	return vec
}

func norm(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x * x
	}
	return math.Sqrt(s)
}

// cosineDistance is 1 - cos(a, b), clipped to [0, 2]. A zero vector is at
// distance 1 from everything.
func cosineDistance(a, b []float64) float64 {
	na, nb := norm(a), norm(b)
	if na == 0 || nb == 0 {
		return 1
	}
	var dot float64
	for i := range a {
		dot += a[i] * b[i]
	}
	d := 1 - dot/(na*nb)
	return math.Min(2, math.Max(0, d))
}

// quantile uses linear interpolation between closest ranks.
func quantile(xs []float64, q float64) float64 {
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	pos := q * float64(len(s)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	return s[lo] + (s[hi]-s[lo])*(pos-float64(lo))
}
