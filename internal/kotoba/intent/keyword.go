package intent

import (
	"context"
	"regexp"
	"strings"
)

// KeywordParser classifies messages with weighted keyword rules. It needs no
// network access and is the fallback when no model is configured.
type KeywordParser struct {
	rules    []keywordRule
	entities []entityRule
}

type keywordRule struct {
	intent   string
	keywords map[string]int
}

type entityRule struct {
	entityType string
	pattern    *regexp.Regexp
}

var _ Parser = (*KeywordParser)(nil)

// NewKeywordParser returns a parser with the built-in rule set.
func NewKeywordParser() *KeywordParser {
	return &KeywordParser{
		// Phrases weigh 3, core keywords 2, supporting keywords 1.
		rules: []keywordRule{
			{intent: TypeCreateProject, keywords: map[string]int{
				"create project": 3, "new project": 3, "start a project": 3,
				"create": 2, "start": 1, "build": 1, "launch": 1, "project": 1,
			}},
			{intent: TypeAnalyzeTension, keywords: map[string]int{
				"tension": 3, "conflict": 2, "problem": 2, "blocker": 2, "stuck": 2,
				"analyze": 2, "analyse": 2, "why": 1, "issue": 1,
			}},
			{intent: TypeGetAgentHelp, keywords: map[string]int{
				"agent": 2, "assistant": 2, "help me": 2, "assign": 2,
				"who can": 1, "delegate": 1,
			}},
			{intent: TypeCheckStatus, keywords: map[string]int{
				"status": 3, "progress": 2, "how is": 1, "update on": 2, "where are we": 2,
			}},
			{intent: TypeGenerateSolution, keywords: map[string]int{
				"solution": 3, "solve": 2, "fix": 2, "resolve": 2, "propose": 1, "idea": 1,
			}},
			{intent: TypeSearchKnowledge, keywords: map[string]int{
				"search": 3, "find": 2, "look up": 2, "lookup": 2, "docs": 1, "knowledge": 2,
			}},
		},
		entities: []entityRule{
			{entityType: EntityProjectName, pattern: regexp.MustCompile(`(?i)project\s+(?:called\s+|named\s+)?["']?([A-Za-z][\w-]*)["']?`)},
			{entityType: EntityAgentType, pattern: regexp.MustCompile(`(?i)\b(\w+)\s+agent\b`)},
		},
	}
}

// Parse scores every rule and returns the best match. Messages with no
// keyword hit produce TypeUnknown at confidence 0.2.
func (p *KeywordParser) Parse(_ context.Context, message string) (*ParsedIntent, error) {
	lower := strings.ToLower(message)

	best, bestScore := TypeUnknown, 0
	for _, rule := range p.rules {
		score := calculateScore(lower, rule.keywords)
		if score > bestScore {
			best, bestScore = rule.intent, score
		}
	}

	out := &ParsedIntent{Type: best, Entities: p.extractEntities(message)}
	if bestScore == 0 {
		out.Confidence = 0.2
		return out, nil
	}
	out.Confidence = normalizeConfidence(bestScore, 5)
	return out, nil
}

func (p *KeywordParser) extractEntities(message string) Entities {
	var ents Entities
	for _, rule := range p.entities {
		for _, m := range rule.pattern.FindAllStringSubmatch(message, -1) {
			if len(m) < 2 || m[1] == "" {
				continue
			}
			val := m[1]
			// "an agent", "the agent" are not agent types.
			if rule.entityType == EntityAgentType && isStopWord(val) {
				continue
			}
			if ents == nil {
				ents = make(Entities)
			}
			ents[rule.entityType] = appendUnique(ents[rule.entityType], val)
		}
	}
	return ents
}

func calculateScore(input string, keywords map[string]int) int {
	score := 0
	for kw, weight := range keywords {
		if strings.Contains(input, kw) {
			score += weight
		}
	}
	return score
}

// normalizeConfidence maps a raw score onto [0.5, 0.95].
func normalizeConfidence(score, maxScore int) float64 {
	if score >= maxScore {
		return 0.95
	}
	return 0.5 + 0.45*float64(score)/float64(maxScore)
}

func isStopWord(s string) bool {
	switch strings.ToLower(s) {
	case "a", "an", "the", "this", "that", "my", "your", "any", "some":
		return true
	}
	return false
}

func appendUnique(vals Values, v string) Values {
	for _, existing := range vals {
		if existing == v {
			return vals
		}
	}
	return append(vals, v)
}
