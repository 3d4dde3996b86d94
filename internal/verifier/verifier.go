package verifier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"bindery/internal/config"
	"bindery/internal/headings"
	"bindery/internal/logging"
)

const systemPrompt = `You classify candidate lines from digitized Arabic book exports.
Respond with JSON only, exactly these five fields and no others:
{"is_heading": bool, "level": 2 or 3, "normalized_title": string, "confidence": number in [0,1], "reason": one of "title", "metadata", "footnote", "pagehead", "body_line"}`

// Result carries the validated decision for one candidate along with its
// cache provenance.
type Result struct {
	CandidateID string   `json:"candidate_id"`
	Signature   string   `json:"signature"`
	Model       string   `json:"model"`
	PromptHash  string   `json:"prompt_hash"`
	FromCache   bool     `json:"from_cache"`
	Decision    Decision `json:"decision"`
}

// Verifier resolves ambiguous candidates through the provider client,
// consulting the cache first.
type Verifier struct {
	client      *Client
	cache       *Cache
	logger      *slog.Logger
	maxAttempts int
}

// New builds a verifier from configuration. Extra client options are applied
// after the config-derived ones, so tests can inject transports and sleepers.
func New(cfg config.Verifier, cache *Cache, logger *slog.Logger, opts ...ClientOption) *Verifier {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultRetryAttempts
	}
	backoff := time.Duration(cfg.BackoffMillis) * time.Millisecond
	if backoff <= 0 {
		backoff = defaultRetryBaseDelay
	}

	clientOpts := []ClientOption{
		WithRetryMaxAttempts(maxAttempts),
		WithRetryBackoff(backoff, defaultRetryMaxDelay),
	}
	clientOpts = append(clientOpts, opts...)

	client := NewClient(ClientConfig{
		APIKey:         cfg.APIKey,
		BaseURL:        cfg.BaseURL,
		Model:          cfg.Model,
		TimeoutSeconds: cfg.TimeoutSeconds,
	}, clientOpts...)

	return &Verifier{
		client:      client,
		cache:       cache,
		logger:      logging.NewComponentLogger(logger, "verifier"),
		maxAttempts: maxAttempts,
	}
}

// BuildPrompt renders the deterministic user prompt for one candidate.
// Identical candidate fields always produce identical prompt text, which is
// what keys the cache.
func BuildPrompt(candidate headings.Candidate) string {
	var b strings.Builder
	b.WriteString("Classify this candidate line as heading or non-heading.\n")
	fmt.Fprintf(&b, "text=%s\n", candidate.Text)
	fmt.Fprintf(&b, "kind=%s\n", candidate.Kind)
	fmt.Fprintf(&b, "context_before=%s\n", candidate.ContextBefore)
	fmt.Fprintf(&b, "context_after=%s\n", candidate.ContextAfter)
	return b.String()
}

// PromptHash returns the first 16 hex chars of the prompt's SHA-256.
func PromptHash(prompt string) string {
	digest := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(digest[:])[:16]
}

// Verify resolves one ambiguous candidate. A cached response is re-validated
// before use; a stale or corrupted entry falls through to a fresh provider
// call. Schema-invalid fresh responses are retried up to the configured
// attempt budget, after which the error is terminal for this candidate.
func (v *Verifier) Verify(ctx context.Context, candidate headings.Candidate) (Result, error) {
	prompt := BuildPrompt(candidate)
	promptHash := PromptHash(prompt)
	model := v.client.Model()
	key := CacheKey(candidate.Signature, model, promptHash)

	result := Result{
		CandidateID: candidate.CandidateID,
		Signature:   candidate.Signature,
		Model:       model,
		PromptHash:  promptHash,
	}

	if entry, found := v.cache.Lookup(key); found {
		decision, err := ValidateDecision(string(entry.Response))
		if err == nil {
			result.FromCache = true
			result.Decision = decision
			return result, nil
		}
		v.logger.Warn("cached verification failed re-validation",
			logging.String("candidate_id", candidate.CandidateID),
			logging.Error(err))
	}

	var lastErr error
	for attempt := 1; attempt <= v.maxAttempts; attempt++ {
		raw, err := v.client.CompleteJSON(ctx, systemPrompt, prompt)
		if err != nil {
			return result, fmt.Errorf("verify candidate %s: %w", candidate.CandidateID, err)
		}

		decision, err := ValidateDecision(raw)
		if err != nil {
			lastErr = err
			v.logger.Warn("verification response rejected",
				logging.String("candidate_id", candidate.CandidateID),
				logging.Int("attempt", attempt),
				logging.Error(err))
			if attempt < v.maxAttempts {
				if sleepErr := v.client.sleep(ctx, v.client.backoffDelay(attempt)); sleepErr != nil {
					return result, fmt.Errorf("verify candidate %s: %w", candidate.CandidateID, sleepErr)
				}
			}
			continue
		}

		// Fenced responses are not valid RawMessage bytes; keep the JSON body.
		payload := strings.TrimSpace(raw)
		if !json.Valid([]byte(payload)) {
			payload = sanitizeJSONPayload(payload)
		}
		if err := v.cache.Store(CacheEntry{
			Key:        key,
			Signature:  candidate.Signature,
			Model:      model,
			PromptHash: promptHash,
			Response:   json.RawMessage(payload),
			CachedAt:   time.Now().UTC(),
		}); err != nil {
			v.logger.Warn("failed to persist verification",
				logging.String("candidate_id", candidate.CandidateID),
				logging.Error(err))
		}

		result.Decision = decision
		return result, nil
	}

	return result, fmt.Errorf("verify candidate %s: schema rejected after %d attempts: %w",
		candidate.CandidateID, v.maxAttempts, lastErr)
}
