package placement

import (
	"math"
	"sort"
	"strings"

	"bindery/internal/config"
	"bindery/internal/textutil"
)

const (
	headingWeight = 0.65
	bodyWeight    = 0.35

	evidenceTokenLimit = 12
)

// Decision statuses.
const (
	StatusAssigned = "assigned"
	StatusReview   = "review"
)

// Review reasons.
const (
	ReasonNoExistingTopics         = "no_existing_topics"
	ReasonConfidenceBelowThreshold = "confidence_below_threshold"
	ReasonAmbiguousTopCandidates   = "ambiguous_top_candidates"
)

// Exemplar is one approved chunk a topic has accumulated.
type Exemplar struct {
	Heading string `json:"heading"`
	Body    string `json:"body"`
}

// Topic is the placement-relevant view of a registry topic.
type Topic struct {
	TopicID       string     `json:"topic_id"`
	ParentTopicID string     `json:"parent_topic_id,omitempty"`
	DisplayTitle  string     `json:"display_title"`
	Aliases       []string   `json:"aliases,omitempty"`
	Status        string     `json:"status"`
	Exemplars     []Exemplar `json:"exemplars,omitempty"`
}

// Candidate is one shortlisted topic with its similarity evidence.
type Candidate struct {
	TopicID           string   `json:"topic_id"`
	Score             float64  `json:"score"`
	HeadingSimilarity float64  `json:"heading_similarity"`
	BodySimilarity    float64  `json:"body_similarity"`
	OverlapTokens     []string `json:"overlap_tokens,omitempty"`
}

// Decision is the placement outcome for one chunk.
type Decision struct {
	Status        string      `json:"status"`
	ChosenTopicID string      `json:"chosen_topic_id,omitempty"`
	Confidence    float64     `json:"confidence"`
	Reasons       []string    `json:"reasons,omitempty"`
	Candidates    []Candidate `json:"candidates,omitempty"`
}

// Engine scores chunks against topics with configured thresholds.
type Engine struct {
	minConfidence   float64
	ambiguityMargin float64
	maxCandidates   int
}

// NewEngine builds an engine from the placement config section.
func NewEngine(cfg config.Placement) *Engine {
	maxCandidates := cfg.MaxCandidates
	if maxCandidates <= 0 {
		maxCandidates = 3
	}
	return &Engine{
		minConfidence:   cfg.MinConfidence,
		ambiguityMargin: cfg.AmbiguityMargin,
		maxCandidates:   maxCandidates,
	}
}

// scoreTopic computes the weighted similarity of one chunk against one topic.
// The heading side compares against the topic title, aliases, and each
// exemplar heading, keeping the best; the body side keeps the best exemplar
// body match.
func (e *Engine) scoreTopic(heading, body string, topic Topic) Candidate {
	headingTokens := textutil.TokenSet(heading)
	bodyTokens := textutil.TokenSet(body)

	headingTargets := make([]string, 0, len(topic.Aliases)+len(topic.Exemplars)+1)
	headingTargets = append(headingTargets, topic.DisplayTitle)
	headingTargets = append(headingTargets, topic.Aliases...)
	for _, exemplar := range topic.Exemplars {
		headingTargets = append(headingTargets, exemplar.Heading)
	}

	var bestHeading float64
	var bestHeadingTokens map[string]struct{}
	for _, target := range headingTargets {
		targetTokens := textutil.TokenSet(target)
		if similarity := textutil.Jaccard(headingTokens, targetTokens); similarity > bestHeading {
			bestHeading = similarity
			bestHeadingTokens = targetTokens
		}
	}

	var bestBody float64
	var bestBodyTokens map[string]struct{}
	for _, exemplar := range topic.Exemplars {
		targetTokens := textutil.TokenSet(exemplar.Body)
		if similarity := textutil.Jaccard(bodyTokens, targetTokens); similarity > bestBody {
			bestBody = similarity
			bestBodyTokens = targetTokens
		}
	}

	overlap := textutil.Overlap(headingTokens, bestHeadingTokens, evidenceTokenLimit)
	if remaining := evidenceTokenLimit - len(overlap); remaining > 0 && bestBodyTokens != nil {
		for _, token := range textutil.Overlap(bodyTokens, bestBodyTokens, remaining) {
			if !containsToken(overlap, token) {
				overlap = append(overlap, token)
			}
		}
	}

	score := headingWeight*bestHeading + bodyWeight*bestBody
	return Candidate{
		TopicID:           topic.TopicID,
		Score:             round4(score),
		HeadingSimilarity: round4(bestHeading),
		BodySimilarity:    round4(bestBody),
		OverlapTokens:     overlap,
	}
}

// Place decides the topic for one chunk given the current topic set.
// Deterministic: ties between equal scores break on topic id.
func (e *Engine) Place(heading, body string, topics []Topic) Decision {
	if len(topics) == 0 {
		return Decision{
			Status:  StatusReview,
			Reasons: []string{ReasonNoExistingTopics},
		}
	}

	candidates := make([]Candidate, 0, len(topics))
	for _, topic := range topics {
		candidates = append(candidates, e.scoreTopic(heading, body, topic))
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].TopicID < candidates[j].TopicID
	})
	if len(candidates) > e.maxCandidates {
		candidates = candidates[:e.maxCandidates]
	}

	top := candidates[0]
	var reasons []string
	if top.Score < e.minConfidence {
		reasons = append(reasons, ReasonConfidenceBelowThreshold)
	}
	if len(candidates) > 1 && top.Score-candidates[1].Score < e.ambiguityMargin {
		reasons = append(reasons, ReasonAmbiguousTopCandidates)
	}

	if len(reasons) > 0 {
		return Decision{
			Status:     StatusReview,
			Confidence: top.Score,
			Reasons:    reasons,
			Candidates: candidates,
		}
	}
	return Decision{
		Status:        StatusAssigned,
		ChosenTopicID: top.TopicID,
		Confidence:    top.Score,
		Candidates:    candidates,
	}
}

func containsToken(tokens []string, token string) bool {
	for _, existing := range tokens {
		if strings.EqualFold(existing, token) {
			return true
		}
	}
	return false
}

func round4(value float64) float64 {
	return math.Round(value*10000) / 10000
}
