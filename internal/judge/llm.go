package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"causeway/internal/config"
	"causeway/internal/event"
	"causeway/internal/gate"
	"causeway/internal/logger"
	"causeway/internal/pkg/circuit"
)

// ChatClient talks to an OpenAI-compatible chat completions endpoint
// (/v1/chat/completions). Retries 429/5xx with Retry-After support and
// exponential backoff.
type ChatClient struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	MaxRetries  int
	Temperature float64

	httpc *http.Client
}

func NewChatClient(cfg config.JudgeConfig) *ChatClient {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ChatClient{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		Timeout:     timeout,
		MaxRetries:  cfg.MaxRetries,
		Temperature: cfg.Temperature,
		httpc:       &http.Client{Timeout: timeout},
	}
}

func (c *ChatClient) endpoint() string {
	url := c.BaseURL
	if url == "" {
		url = "https://api.openai.com/v1"
	}
	url = strings.TrimRight(url, "/")
	// Tolerate configs that already include the full path.
	url = strings.TrimSuffix(url, "/chat/completions")
	return url + "/chat/completions"
}

// CallWithMessages sends one system+user exchange and returns the raw
// assistant content.
func (c *ChatClient) CallWithMessages(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	url := c.endpoint()
	messages := []map[string]string{}
	if systemPrompt != "" {
		messages = append(messages, map[string]string{"role": "system", "content": systemPrompt})
	}
	messages = append(messages, map[string]string{"role": "user", "content": userPrompt})
	body := map[string]any{"model": c.Model, "messages": messages, "temperature": c.Temperature}
	b, _ := json.Marshal(body)

	maxRetries := c.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 2
	}
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt == 0 {
			logger.Debugf("[judge] POST %s model=%s auth=****%s body_bytes=%d",
				url, c.Model, tail(c.APIKey), len(b))
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.APIKey != "" {
			req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.APIKey))
		}
		resp, err := c.httpc.Do(req)
		if err != nil {
			lastErr = err
			break
		}
		if resp.StatusCode/100 == 2 {
			var r struct {
				Choices []struct {
					Message struct {
						Content string `json:"content"`
					} `json:"message"`
				} `json:"choices"`
			}
			derr := json.NewDecoder(resp.Body).Decode(&r)
			resp.Body.Close()
			if derr != nil {
				lastErr = derr
				break
			}
			if len(r.Choices) == 0 {
				lastErr = fmt.Errorf("empty choices")
				break
			}
			return r.Choices[0].Message.Content, nil
		}
		var eresp struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&eresp)
		resp.Body.Close()
		msg := strings.TrimSpace(eresp.Error.Message)
		if msg == "" {
			msg = resp.Status
		}
		lastErr = fmt.Errorf("status=%d: %s", resp.StatusCode, msg)
		if retryable(resp.StatusCode) && attempt < maxRetries {
			wait := retryAfter(resp.Header.Get("Retry-After"))
			if wait == 0 {
				wait = (800 * time.Millisecond) << attempt
				if wait > 8*time.Second {
					wait = 8 * time.Second
				}
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		break
	}
	return "", lastErr
}

func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func retryAfter(h string) time.Duration {
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(h); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func tail(s string) string {
	if len(s) > 4 {
		return s[len(s)-4:]
	}
	return s
}

var expertRoles = []struct {
	name string
	role string
}{
	{"temporal", "Expert in temporal precedence and lag reasonableness in financial events."},
	{"discourse", "Expert in entity/discourse linking for financial text."},
	{"precondition", "Expert in financial preconditions and enabling constraints."},
	{"commonsense", "Expert in pragmatic market-specific causal logic."},
}

const judgeRole = "You are the judge that determines if a CAUSAL edge exists and its POLARITY (+1 bullish or -1 bearish)."

func buildExpertPrompt(role, causeSummary, effectSummary string, meta map[string]string) string {
	mb, _ := json.Marshal(meta)
	return fmt.Sprintf(`You are the %s
Decide if CAUSE (A) could causally influence EFFECT (B).
Respond as JSON:{
  "vote": 0 or 1,
  "polarity": -1 or 1 or 0,
  "confidence": 0..1,
  "rationale": "one sentence"
}
A: %s
B: %s
Metadata: %s
Output ONLY the JSON.`, role, causeSummary, effectSummary, string(mb))
}

func buildJudgePrompt(expertOutputs []map[string]any, causeSummary, effectSummary string) string {
	eb, _ := json.Marshal(expertOutputs)
	return fmt.Sprintf(`%s
Return JSON:{
  "edge": 0 or 1,
  "polarity": -1 or 1 or 0,
  "confidence": 0..1,
  "rationale": "short reason"
}
Experts: %s
A: %s
B: %s
Output ONLY the JSON.`, judgeRole, string(eb), causeSummary, effectSummary)
}

// DebateJudge implements Judge with a four-expert debate plus a judge pass
// against a chat model. A circuit breaker guards the boundary; when open,
// Assess fails fast with ErrUnavailable.
type DebateJudge struct {
	client  *ChatClient
	breaker *circuit.Breaker
	timeout time.Duration
}

func NewDebateJudge(cfg config.JudgeConfig) *DebateJudge {
	cooldown := time.Duration(cfg.BreakerCooldownSeconds) * time.Second
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	threshold := cfg.BreakerThreshold
	if threshold <= 0 {
		threshold = 5
	}
	return &DebateJudge{
		client:  NewChatClient(cfg),
		breaker: circuit.NewBreaker("judge", threshold, cooldown),
		timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
}

func (d *DebateJudge) Assess(ctx context.Context, pair gate.CandidatePair, cause, effect event.Event) (Judgment, error) {
	if !d.breaker.Allow() {
		return Judgment{}, fmt.Errorf("%w: breaker open", ErrUnavailable)
	}
	ctx, cancel := context.WithTimeout(ctx, d.totalBudget())
	defer cancel()

	meta := map[string]string{
		"ticker_cause":  cause.Ticker,
		"ticker_effect": effect.Ticker,
		"type_cause":    string(cause.Type),
		"type_effect":   string(effect.Type),
		"edge_type":     pair.EdgeType,
		"gate_reason":   pair.GateReason,
	}

	expertOutputs := make([]map[string]any, 0, len(expertRoles))
	for _, ex := range expertRoles {
		prompt := buildExpertPrompt(ex.role, cause.Summary, effect.Summary, meta)
		raw, err := d.client.CallWithMessages(ctx, "", prompt)
		if err != nil {
			d.breaker.RecordFailure()
			return Judgment{}, fmt.Errorf("%w: expert %s: %v", ErrUnavailable, ex.name, err)
		}
		out := parseExpert(raw)
		out["role"] = ex.name
		expertOutputs = append(expertOutputs, out)
	}

	raw, err := d.client.CallWithMessages(ctx, "", buildJudgePrompt(expertOutputs, cause.Summary, effect.Summary))
	if err != nil {
		d.breaker.RecordFailure()
		return Judgment{}, fmt.Errorf("%w: judge: %v", ErrUnavailable, err)
	}
	d.breaker.RecordSuccess()

	j, perr := ParseJudgment(raw)
	if perr != nil {
		return Judgment{}, perr
	}
	return j, nil
}

// totalBudget spans the whole debate (experts + judge), each call also
// bounded by the client timeout.
func (d *DebateJudge) totalBudget() time.Duration {
	per := d.timeout
	if per <= 0 {
		per = 30 * time.Second
	}
	return time.Duration(len(expertRoles)+1) * per
}

func parseExpert(raw string) map[string]any {
	var out map[string]any
	if j, err := ParseExpertVote(raw); err == nil {
		out = j
	} else {
		out = map[string]any{"vote": 0, "polarity": 0, "confidence": 0.0, "rationale": "parse_error"}
	}
	return out
}

func (d *DebateJudge) Explain(ctx context.Context, ticker, direction string, score float64) (string, error) {
	if !d.breaker.Allow() {
		return "", fmt.Errorf("%w: breaker open", ErrUnavailable)
	}
	ctx, cancel := context.WithTimeout(ctx, d.client.Timeout)
	defer cancel()
	prompt := fmt.Sprintf(
		"In one sentence, explain why the causal graph currently supports a %s move on %s with net score %.2f sigma. Plain text only.",
		direction, ticker, score)
	raw, err := d.client.CallWithMessages(ctx, "", prompt)
	if err != nil {
		d.breaker.RecordFailure()
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	d.breaker.RecordSuccess()
	return strings.TrimSpace(raw), nil
}
