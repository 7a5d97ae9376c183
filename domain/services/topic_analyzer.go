package services

import (
	"context"
	"sort"
	"strings"
	"unicode"

	ahocorasick "github.com/petar-dambovaliev/aho-corasick"

	"topicgrader/domain/config"
	"topicgrader/domain/core/entities"
	"topicgrader/domain/core/valueobjects"
)

// TopicAnalyzer extracts topic labels from a Q&A pair and classifies how a
// new topic relates to the nodes already in a tree. Implementations hold no
// per-conversation state.
type TopicAnalyzer interface {
	ExtractTopics(ctx context.Context, qa valueobjects.QAPair) ([]string, error)
	DetermineRelationship(ctx context.Context, topic string, existing []*entities.TopicNode) (valueobjects.TopicRelationship, error)
}

// phraseMatcher finds whole-word occurrences of a fixed phrase list
type phraseMatcher struct {
	ac    ahocorasick.AhoCorasick
	empty bool
}

func newPhraseMatcher(phrases []string) phraseMatcher {
	if len(phrases) == 0 {
		return phraseMatcher{empty: true}
	}
	builder := ahocorasick.NewAhoCorasickBuilder(ahocorasick.Opts{
		AsciiCaseInsensitive: true,
		MatchOnlyWholeWords:  true,
		MatchKind:            ahocorasick.LeftMostLongestMatch,
	})
	return phraseMatcher{ac: builder.Build(phrases)}
}

func (m phraseMatcher) matches(text string) bool {
	if m.empty || text == "" {
		return false
	}
	return len(m.ac.FindAll(text)) > 0
}

// KeywordTopicAnalyzer is the local heuristic analyzer: n-gram frequency for
// extraction, word-set similarity with curated boosts for classification
type KeywordTopicAnalyzer struct {
	cfg           *config.DomainConfig
	stopWords     map[string]bool
	stopPhrases   phraseMatcher
	continuations phraseMatcher
	groups        []phraseMatcher
	groupNames    []string
}

var _ TopicAnalyzer = (*KeywordTopicAnalyzer)(nil)

// AnalyzerOption customizes a KeywordTopicAnalyzer
type AnalyzerOption func(*Vocabulary)

// WithVocabulary replaces the built-in word lists
func WithVocabulary(v Vocabulary) AnalyzerOption {
	return func(target *Vocabulary) {
		*target = v
	}
}

// NewKeywordTopicAnalyzer builds the matchers once; the analyzer is then read-only
func NewKeywordTopicAnalyzer(cfg *config.DomainConfig, opts ...AnalyzerOption) *KeywordTopicAnalyzer {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	vocab := DefaultVocabulary()
	for _, opt := range opts {
		opt(&vocab)
	}

	a := &KeywordTopicAnalyzer{
		cfg:       cfg,
		stopWords: make(map[string]bool, len(vocab.StopWords)),
	}
	for _, w := range vocab.StopWords {
		a.stopWords[strings.ToLower(w)] = true
	}

	// Phrases go through the same normalization as labels so they can match them
	a.stopPhrases = newPhraseMatcher(a.normalizeAll(vocab.StopPhrases))
	a.continuations = newPhraseMatcher(a.normalizeAll(vocab.ContinuationPhrases))
	for _, g := range vocab.RelatedTermGroups {
		terms := a.normalizeAll(g.Terms)
		if len(terms) == 0 {
			continue
		}
		a.groups = append(a.groups, newPhraseMatcher(terms))
		a.groupNames = append(a.groupNames, g.Name)
	}
	return a
}

// tokenize lowercases, turns punctuation into spaces and drops stop words
func (a *KeywordTopicAnalyzer) tokenize(text string) []string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, text)

	fields := strings.Fields(cleaned)
	tokens := fields[:0]
	for _, f := range fields {
		if !a.stopWords[f] {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// Normalize returns the canonical form labels are compared in
func (a *KeywordTopicAnalyzer) Normalize(text string) string {
	return strings.Join(a.tokenize(text), " ")
}

func (a *KeywordTopicAnalyzer) normalizeAll(phrases []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, p := range phrases {
		n := a.Normalize(p)
		if n != "" && !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

type phraseStat struct {
	phrase string
	weight int
	size   int
	first  int
}

// ExtractTopics returns up to MaxTopicsPerPair labels ranked by weighted
// frequency, then phrase length, then first position
func (a *KeywordTopicAnalyzer) ExtractTopics(ctx context.Context, qa valueobjects.QAPair) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stats := make(map[string]*phraseStat)
	position := 0
	count := func(tokens []string, weight int) {
		for i := range tokens {
			for n := 1; n <= 3 && i+n <= len(tokens); n++ {
				phrase := strings.Join(tokens[i:i+n], " ")
				if len(phrase) < a.cfg.MinPhraseLength {
					continue
				}
				st, ok := stats[phrase]
				if !ok {
					st = &phraseStat{phrase: phrase, size: n, first: position + i}
					stats[phrase] = st
				}
				st.weight += weight
			}
		}
		position += len(tokens)
	}
	count(a.tokenize(qa.Question()), a.cfg.QuestionWeight)
	count(a.tokenize(qa.Answer()), 1)

	ranked := make([]*phraseStat, 0, len(stats))
	for _, st := range stats {
		if a.stopPhrases.matches(st.phrase) {
			continue
		}
		ranked = append(ranked, st)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].weight != ranked[j].weight {
			return ranked[i].weight > ranked[j].weight
		}
		if ranked[i].size != ranked[j].size {
			return ranked[i].size > ranked[j].size
		}
		if ranked[i].first != ranked[j].first {
			return ranked[i].first < ranked[j].first
		}
		return ranked[i].phrase < ranked[j].phrase
	})

	if len(ranked) == 0 {
		return []string{a.cfg.FallbackTopic}, nil
	}
	limit := a.cfg.MaxTopicsPerPair
	if len(ranked) < limit {
		limit = len(ranked)
	}
	topics := make([]string, limit)
	for i := 0; i < limit; i++ {
		topics[i] = ranked[i].phrase
	}
	return topics, nil
}

// IsContinuation reports whether a label carries a follow-up cue
func (a *KeywordTopicAnalyzer) IsContinuation(label string) bool {
	return a.continuations.matches(a.Normalize(label))
}

// RelatedGroups returns the names of the term groups a label touches
func (a *KeywordTopicAnalyzer) RelatedGroups(label string) []string {
	var names []string
	for _, i := range a.groupIndexes(a.Normalize(label)) {
		names = append(names, a.groupNames[i])
	}
	return names
}

func (a *KeywordTopicAnalyzer) groupIndexes(normalized string) []int {
	var out []int
	for i, g := range a.groups {
		if g.matches(normalized) {
			out = append(out, i)
		}
	}
	return out
}

func (a *KeywordTopicAnalyzer) sharesGroup(left, right string) bool {
	lg := a.groupIndexes(left)
	if len(lg) == 0 {
		return false
	}
	rg := make(map[int]bool)
	for _, i := range a.groupIndexes(right) {
		rg[i] = true
	}
	for _, i := range lg {
		if rg[i] {
			return true
		}
	}
	return false
}

func (a *KeywordTopicAnalyzer) wordSet(normalized string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(normalized) {
		if len([]rune(w)) >= a.cfg.MinWordLength {
			set[w] = true
		}
	}
	return set
}

// Similarity scores two labels in [0, 1]: Jaccard over significant words,
// plus a related-group boost, plus a capped boost for partial word matches.
// Labels that normalize to the same text score 1.
func (a *KeywordTopicAnalyzer) Similarity(left, right string) float64 {
	l, r := a.Normalize(left), a.Normalize(right)
	if l != "" && l == r {
		return 1
	}

	lw, rw := a.wordSet(l), a.wordSet(r)
	var score float64
	union := len(lw)
	intersection := 0
	for w := range rw {
		if lw[w] {
			intersection++
		} else {
			union++
		}
	}
	if union > 0 {
		score = float64(intersection) / float64(union)
	}

	if a.sharesGroup(l, r) {
		score += a.cfg.RelatedTermBoost
	}

	partial := 0.0
	for x := range lw {
		for y := range rw {
			if x != y && partialMatch(x, y) {
				partial += a.cfg.PartialMatchBoost
			}
		}
	}
	if partial > a.cfg.MaxPartialMatchBoost {
		partial = a.cfg.MaxPartialMatchBoost
	}
	score += partial

	if score > 1 {
		score = 1
	}
	return score
}

// partialMatch: one word contains the other, or they share a 4-letter prefix
func partialMatch(x, y string) bool {
	if len(x) > len(y) {
		x, y = y, x
	}
	if strings.Contains(y, x) {
		return true
	}
	prefix := 0
	for prefix < len(x) && x[prefix] == y[prefix] {
		prefix++
	}
	return prefix >= 4
}

type scoredNode struct {
	node  *entities.TopicNode
	score float64
	index int
}

// DetermineRelationship classifies topic against the existing nodes, which
// are expected in insertion order; earlier nodes win similarity ties
func (a *KeywordTopicAnalyzer) DetermineRelationship(ctx context.Context, topic string, existing []*entities.TopicNode) (valueobjects.TopicRelationship, error) {
	if err := ctx.Err(); err != nil {
		return valueobjects.TopicRelationship{}, err
	}
	if len(existing) == 0 {
		return valueobjects.NewRoot(1.0), nil
	}

	normalized := a.Normalize(topic)
	if a.continuations.matches(normalized) {
		latest := existing[0]
		for _, n := range existing[1:] {
			if !n.UpdatedAt().Before(latest.UpdatedAt()) {
				latest = n
			}
		}
		return valueobjects.Continuation(latest.ID(), a.cfg.ContinuationConfidence), nil
	}

	scored := make([]scoredNode, len(existing))
	for i, n := range existing {
		scored[i] = scoredNode{node: n, score: a.Similarity(topic, n.Topic()), index: i}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})
	best := scored[0]

	switch {
	case best.score >= a.cfg.ChildThreshold:
		return valueobjects.ChildOf(best.node.ID(), best.score), nil

	case best.score >= a.cfg.SiblingThreshold:
		if !best.node.IsRoot() {
			return valueobjects.SiblingOf(best.node.ParentID(), best.node.ID(), best.score), nil
		}
		return valueobjects.ChildOf(best.node.ID(), best.score), nil

	case best.score >= a.cfg.RelatedThreshold:
		if parent, ok := a.contextualParent(normalized, scored); ok {
			return valueobjects.ChildOf(parent.node.ID(), parent.score), nil
		}
		return valueobjects.RelatedRoot(best.node.ID(), a.cfg.RelatedRootConfidence), nil

	default:
		return valueobjects.NewRoot(1 - best.score), nil
	}
}

// contextualParent looks for a broader topic in the same subject area:
// a related node sharing a term group whose label has fewer words
func (a *KeywordTopicAnalyzer) contextualParent(normalized string, scored []scoredNode) (scoredNode, bool) {
	words := len(strings.Fields(normalized))
	for _, candidate := range scored {
		if candidate.score < a.cfg.RelatedThreshold {
			break
		}
		label := a.Normalize(candidate.node.Topic())
		if len(strings.Fields(label)) < words && a.sharesGroup(normalized, label) {
			return candidate, true
		}
	}
	return scoredNode{}, false
}
