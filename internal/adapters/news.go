package adapters

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/paperquant/trading-agent/internal/observ"
)

// NewsClient pulls recent headlines from a NewsAPI-compatible endpoint. It
// never fails the cycle: without a key or on any error it returns a stub
// headline the sentiment scorer treats as low-information.
type NewsClient struct {
	http   *resty.Client
	apiKey string
}

// NewNewsClient builds the client for baseURL (e.g. https://newsapi.org/v2).
func NewNewsClient(baseURL, apiKey string, timeout time.Duration) *NewsClient {
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(timeout)
	return &NewsClient{http: client, apiKey: apiKey}
}

type newsResponse struct {
	Articles []struct {
		Title string `json:"title"`
	} `json:"articles"`
}

// Headlines returns up to maxItems recent titles for symbol from the last two
// days of coverage.
func (n *NewsClient) Headlines(symbol string, maxItems int) []string {
	return n.HeadlinesAsOf(symbol, maxItems, time.Now().UTC())
}

// HeadlinesAsOf returns titles from the two days up to asOf. Replays pass the
// simulated day so the sentiment scorer never sees future coverage.
func (n *NewsClient) HeadlinesAsOf(symbol string, maxItems int, asOf time.Time) []string {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return []string{"No symbol provided."}
	}
	if n == nil || n.apiKey == "" {
		return []string{fmt.Sprintf("Market update for %s (no news API key configured).", symbol)}
	}
	if maxItems <= 0 || maxItems > 20 {
		maxItems = 15
	}
	var out newsResponse
	resp, err := n.http.R().
		SetQueryParams(map[string]string{
			"q":        symbol,
			"from":     asOf.AddDate(0, 0, -2).Format("2006-01-02"),
			"to":       asOf.Format("2006-01-02"),
			"sortBy":   "publishedAt",
			"pageSize": fmt.Sprintf("%d", maxItems),
			"language": "en",
			"apiKey":   n.apiKey,
		}).
		SetResult(&out).
		Get("/everything")
	if err != nil || resp.IsError() {
		observ.IncCounter("provider_degraded_total", map[string]string{"provider": "news"})
		observ.Logger.Debug().Err(err).Str("symbol", symbol).Msg("news fetch failed, using stub headline")
		return []string{fmt.Sprintf("Market update for %s (news fetch failed).", symbol)}
	}
	var headlines []string
	for _, a := range out.Articles {
		if a.Title != "" {
			headlines = append(headlines, a.Title)
		}
		if len(headlines) >= maxItems {
			break
		}
	}
	if len(headlines) == 0 {
		return []string{fmt.Sprintf("No recent headlines for %s.", symbol)}
	}
	return headlines
}
