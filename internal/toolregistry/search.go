package toolregistry

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"github.com/haasonsaas/nexus/pkg/models"
)

// foldCase normalizes tool names/descriptions/queries for comparison.
// cases.Fold applies full Unicode case folding, so accented and non-Latin
// tool names search correctly where a plain strings.ToLower would not.
var foldCase = cases.Fold()

// Search ranks registered tools (core and deferred) against query.
//
// Ranking: exact name match +100; full-query substring in name +50;
// per-expanded-term, name-token match +25, name substring +20, description
// substring +10. Query expansion splits on whitespace, stems each term with
// naiveStem, and adds synonyms for both the raw and stemmed forms.
func (r *Registry) Search(query string, limit int) []models.ToolMeta {
	r.mu.Lock()
	entries := make([]*Entry, len(r.entries))
	copy(entries, r.entries)
	r.mu.Unlock()

	lowerQuery := foldCase.String(query)
	rawTerms := strings.Fields(lowerQuery)

	var expanded []string
	seen := map[string]bool{}
	add := func(term string) {
		if term != "" && !seen[term] {
			seen[term] = true
			expanded = append(expanded, term)
		}
	}
	for _, t := range rawTerms {
		add(t)
		stemmed := naiveStem(t)
		add(stemmed)
		for _, syn := range synonyms(t) {
			add(syn)
		}
		for _, syn := range synonyms(stemmed) {
			add(syn)
		}
	}

	type scored struct {
		score int
		meta  models.ToolMeta
	}
	var results []scored

	for _, e := range entries {
		nameLower := foldCase.String(e.Meta.Name)
		descLower := foldCase.String(e.Meta.Description)
		nameTokens := strings.FieldsFunc(nameLower, func(c rune) bool {
			return c == '_' || c == '-'
		})

		score := 0
		if nameLower == lowerQuery {
			score += 100
		}
		if lowerQuery != "" && strings.Contains(nameLower, lowerQuery) {
			score += 50
		}
		for _, term := range expanded {
			tokenMatch := false
			for _, tok := range nameTokens {
				if strings.Contains(tok, term) {
					tokenMatch = true
					break
				}
			}
			if tokenMatch {
				score += 25
			} else if strings.Contains(nameLower, term) {
				score += 20
			}
			if strings.Contains(descLower, term) {
				score += 10
			}
		}
		if score > 0 {
			results = append(results, scored{score: score, meta: e.Meta})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	out := make([]models.ToolMeta, len(results))
	for i, s := range results {
		out[i] = s.meta
	}
	return out
}

// naiveStem is a lightweight English suffix stemmer: good enough for tool
// search, not a real linguistic stemmer. Order matters — longer suffixes are
// tried first.
func naiveStem(word string) string {
	w := foldCase.String(word)
	for _, suffix := range []string{"ying", "ling", "ring", "ning", "ting"} {
		if strings.HasSuffix(w, suffix) && len(w) > len(suffix)+2 {
			return w[:len(w)-len(suffix)+1] // keep the consonant
		}
	}
	if strings.HasSuffix(w, "ies") && len(w) > 4 {
		return w[:len(w)-3] + "y"
	}
	if strings.HasSuffix(w, "ses") || strings.HasSuffix(w, "zes") || strings.HasSuffix(w, "xes") {
		return w[:len(w)-2]
	}
	if strings.HasSuffix(w, "ing") && len(w) > 4 {
		return w[:len(w)-3]
	}
	if strings.HasSuffix(w, "es") && len(w) > 3 {
		return w[:len(w)-2]
	}
	if strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") && len(w) > 3 {
		return w[:len(w)-1]
	}
	return w
}

// synonyms returns a fixed table of alias terms for common tool-search
// intents.
func synonyms(term string) []string {
	switch term {
	case "schedule", "scheduled", "timer", "periodic":
		return []string{"cron", "job", "schedule"}
	case "cron":
		return []string{"schedule", "job", "timer"}
	case "remember", "memorize", "store", "knowledge":
		return []string{"memory", "save", "recall"}
	case "memory", "memories":
		return []string{"save_memory", "recall", "forget"}
	case "forget", "delete":
		return []string{"forget", "delete", "remove"}
	case "agent", "bot", "assistant":
		return []string{"agent", "list_agent", "create_agent"}
	case "session", "chat", "conversation":
		return []string{"session", "chat"}
	case "skill", "capability", "plugin":
		return []string{"skill", "create_skill"}
	case "run", "execute", "shell", "command", "cmd", "bash":
		return []string{"exec", "shell", "exec_shell"}
	case "file", "read", "write", "edit", "list", "ls", "dir":
		return []string{"file", "read_file", "write_file", "edit_file", "list_file"}
	case "browse", "web", "url", "http", "page":
		return []string{"browser"}
	default:
		return nil
	}
}
