package graph

import (
	"strings"
)

// Resolver maps free-text entity mentions to node IDs. Exact normalized
// name or synonym matches win; otherwise the best token-overlap candidate
// above the threshold is used.
type Resolver struct {
	exact  map[string]string   // normalized name -> node ID
	tokens map[string][]string // token -> node IDs containing it
	names  map[string][]string // node ID -> normalized names
}

const fuzzyThreshold = 0.5

// NewResolver creates an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{
		exact:  make(map[string]string),
		tokens: make(map[string][]string),
		names:  make(map[string][]string),
	}
}

// Index registers a node's name and synonyms.
func (r *Resolver) Index(n Node) {
	names := append([]string{n.Name}, n.Synonyms...)
	for _, name := range names {
		norm := normalizeMention(name)
		if norm == "" {
			continue
		}
		r.exact[norm] = n.ID
		r.names[n.ID] = append(r.names[n.ID], norm)
		for _, tok := range strings.Fields(norm) {
			ids := r.tokens[tok]
			if len(ids) == 0 || ids[len(ids)-1] != n.ID {
				r.tokens[tok] = append(ids, n.ID)
			}
		}
	}
}

// Resolve returns the node ID for a mention, preferring exact matches.
func (r *Resolver) Resolve(mention string) (string, bool) {
	norm := normalizeMention(mention)
	if norm == "" {
		return "", false
	}
	if id, ok := r.exact[norm]; ok {
		return id, true
	}
	return r.fuzzy(norm)
}

// fuzzy picks the candidate with the highest token Jaccard overlap above
// the threshold, breaking ties by node ID for determinism.
func (r *Resolver) fuzzy(norm string) (string, bool) {
	mentionTokens := strings.Fields(norm)
	if len(mentionTokens) == 0 {
		return "", false
	}

	candidates := make(map[string]bool)
	for _, tok := range mentionTokens {
		for _, id := range r.tokens[tok] {
			candidates[id] = true
		}
	}

	bestID := ""
	bestScore := 0.0
	for id := range candidates {
		for _, name := range r.names[id] {
			score := jaccard(mentionTokens, strings.Fields(name))
			if score > bestScore || (score == bestScore && score > 0 && (bestID == "" || id < bestID)) {
				bestID = id
				bestScore = score
			}
		}
	}

	if bestScore < fuzzyThreshold {
		return "", false
	}
	return bestID, true
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]bool, len(a))
	for _, t := range a {
		setA[t] = true
	}
	inter := 0
	setB := make(map[string]bool, len(b))
	for _, t := range b {
		if setB[t] {
			continue
		}
		setB[t] = true
		if setA[t] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// normalizeMention lowercases and collapses whitespace, stripping common
// punctuation so "Type-2 Diabetes," matches "type 2 diabetes".
func normalizeMention(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, ch := range s {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9':
			b.WriteRune(ch)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
