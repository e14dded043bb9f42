package similarity

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

var tokenRe = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// tokenize lowercases s and splits it into word tokens of at least two
// characters, dropping English stop words.
func tokenize(s string) []string {
	raw := tokenRe.FindAllString(strings.ToLower(s), -1)
	tokens := raw[:0]
	for _, tok := range raw {
		if utf8.RuneCountInString(tok) < 2 {
			continue
		}
		if _, stop := englishStopWords[tok]; stop {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

// term is one non-zero entry of a sparse document vector.
type term struct {
	id     int
	weight float64
}

// vector is a sparse, L2-normalized TF-IDF row sorted by term id.
type vector []term

func (v vector) dot(o vector) float64 {
	var sum float64
	i, j := 0, 0
	for i < len(v) && j < len(o) {
		switch {
		case v[i].id == o[j].id:
			sum += v[i].weight * o[j].weight
			i++
			j++
		case v[i].id < o[j].id:
			i++
		default:
			j++
		}
	}
	return sum
}

// vectorize computes TF-IDF rows for docs: raw term counts, smoothed idf
// ln((1+n)/(1+df)) + 1, then L2 normalization per row. It returns the rows
// and the vocabulary size.
func vectorize(docs []string) ([]vector, int) {
	vocab := make(map[string]int)
	counts := make([]map[int]int, len(docs))
	for i, doc := range docs {
		c := make(map[int]int)
		for _, tok := range tokenize(doc) {
			id, ok := vocab[tok]
			if !ok {
				id = len(vocab)
				vocab[tok] = id
			}
			c[id]++
		}
		counts[i] = c
	}

	df := make([]int, len(vocab))
	for _, c := range counts {
		for id := range c {
			df[id]++
		}
	}
	n := float64(len(docs))
	idf := make([]float64, len(vocab))
	for id, d := range df {
		idf[id] = math.Log((1+n)/(1+float64(d))) + 1
	}

	rows := make([]vector, len(docs))
	for i, c := range counts {
		row := make(vector, 0, len(c))
		var norm float64
		for id, tf := range c {
			w := float64(tf) * idf[id]
			row = append(row, term{id: id, weight: w})
			norm += w * w
		}
		if norm > 0 {
			norm = math.Sqrt(norm)
			for k := range row {
				row[k].weight /= norm
			}
		}
		sort.Slice(row, func(a, b int) bool { return row[a].id < row[b].id })
		rows[i] = row
	}
	return rows, len(vocab)
}
