package signals

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/paperquant/trading-agent/internal/decision"
	"github.com/paperquant/trading-agent/internal/observ"
)

// LLMClient talks to an OpenRouter-compatible chat completions endpoint. A
// client with no API key scores everything neutral instead of failing, so the
// agent keeps trading on price signals alone.
type LLMClient struct {
	http   *resty.Client
	model  string
	apiKey string
}

// NewLLMClient builds a client for baseURL (e.g. https://openrouter.ai/api/v1).
func NewLLMClient(baseURL, model, apiKey string, timeout time.Duration) *LLMClient {
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(timeout)
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &LLMClient{http: client, model: model, apiKey: apiKey}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// complete sends one user prompt and returns the raw completion text.
func (c *LLMClient) complete(prompt string) (string, error) {
	var out chatResponse
	resp, err := c.http.R().
		SetBody(chatRequest{
			Model:       c.model,
			Messages:    []chatMessage{{Role: "user", Content: prompt}},
			Temperature: 0.3,
			MaxTokens:   256,
		}).
		SetResult(&out).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("chat completion request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("chat completion returned %s", resp.Status())
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

// stripFences removes a markdown code fence some models wrap JSON in.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// Sentiment scores news headlines into a bullish/bearish polarity.
type Sentiment struct {
	client *LLMClient
}

// NewSentiment wires the sentiment scorer onto a shared LLM client.
func NewSentiment(client *LLMClient) *Sentiment { return &Sentiment{client: client} }

// Score asks the model for polarity over the symbol's headlines; neutral on
// missing key, empty headlines or any API failure.
func (s *Sentiment) Score(symbol string, tc decision.TextContext) decision.TextSignal {
	if s.client == nil || s.client.apiKey == "" || len(tc.Headlines) == 0 {
		return decision.TextSignal{Summary: "No headlines or API key.", Source: "sentiment"}
	}
	headlines := tc.Headlines
	if len(headlines) > 20 {
		headlines = headlines[:20]
	}
	text := strings.Join(headlines, "\n")
	if len(text) > 3000 {
		text = text[:3000]
	}
	subject := symbol
	if subject == "" {
		subject = "the market"
	}
	prompt := fmt.Sprintf(`You are a financial sentiment analyst. Given these headlines/feeds for %s, output a single JSON object with:
- "polarity": number from -1.0 (bearish) to 1.0 (bullish)
- "summary": one short sentence
- "confidence": number from 0 to 1

Headlines:
%s

Reply with only the JSON object, no markdown.`, subject, text)

	content, err := s.client.complete(prompt)
	if err != nil {
		observ.IncCounter("provider_degraded_total", map[string]string{"provider": "llm"})
		observ.Logger.Warn().Err(err).Str("symbol", symbol).Msg("sentiment scoring degraded to neutral")
		return decision.TextSignal{Summary: "LLM unavailable.", Source: "sentiment"}
	}
	var parsed struct {
		Polarity   float64 `json:"polarity"`
		Summary    string  `json:"summary"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(stripFences(content)), &parsed); err != nil {
		observ.Logger.Warn().Err(err).Str("symbol", symbol).Msg("sentiment response unparseable")
		return decision.TextSignal{Summary: "Unparseable response.", Source: "sentiment"}
	}
	return decision.TextSignal{
		Score:      clamp1(parsed.Polarity),
		Confidence: clamp01(parsed.Confidence),
		Summary:    truncate(parsed.Summary, 500),
		Source:     "sentiment",
	}
}

// Macro scores economic indicators into a risk-asset stance.
type Macro struct {
	client *LLMClient
}

// NewMacro wires the macro scorer onto a shared LLM client.
func NewMacro(client *LLMClient) *Macro { return &Macro{client: client} }

// Score asks the model for a stance over the macro indicators; neutral on
// missing key or API failure.
func (m *Macro) Score(symbol string, tc decision.TextContext) decision.TextSignal {
	if m.client == nil || m.client.apiKey == "" {
		return decision.TextSignal{Summary: "No API key.", Source: "macro"}
	}
	desc, err := json.Marshal(tc.MacroIndicators)
	if err != nil || len(tc.MacroIndicators) == 0 {
		return decision.TextSignal{Summary: "No indicators.", Source: "macro"}
	}
	text := string(desc)
	if len(text) > 2500 {
		text = text[:2500]
	}
	prompt := fmt.Sprintf(`You are a macro analyst. Given these economic indicators, output a single JSON object with:
- "stance": number from -1.0 (bearish for risk assets) to 1.0 (bullish)
- "summary": one short sentence
- "confidence": number from 0 to 1

Indicators:
%s

Reply with only the JSON object, no markdown.`, text)

	content, err := m.client.complete(prompt)
	if err != nil {
		observ.IncCounter("provider_degraded_total", map[string]string{"provider": "llm"})
		observ.Logger.Warn().Err(err).Str("symbol", symbol).Msg("macro scoring degraded to neutral")
		return decision.TextSignal{Summary: "LLM unavailable.", Source: "macro"}
	}
	var parsed struct {
		Stance     float64 `json:"stance"`
		Summary    string  `json:"summary"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(stripFences(content)), &parsed); err != nil {
		observ.Logger.Warn().Err(err).Str("symbol", symbol).Msg("macro response unparseable")
		return decision.TextSignal{Summary: "Unparseable response.", Source: "macro"}
	}
	return decision.TextSignal{
		Score:      clamp1(parsed.Stance),
		Confidence: clamp01(parsed.Confidence),
		Summary:    truncate(parsed.Summary, 500),
		Source:     "macro",
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
