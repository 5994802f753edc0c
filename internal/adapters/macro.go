package adapters

import (
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/paperquant/trading-agent/internal/observ"
)

// MacroClient pulls macro indicators (currently the fed funds rate) from an
// Alpha Vantage-compatible endpoint. Without a key or on failure it returns an
// empty map and the macro scorer stays neutral.
type MacroClient struct {
	http   *resty.Client
	apiKey string
}

// NewMacroClient builds the client for baseURL (e.g. https://www.alphavantage.co).
func NewMacroClient(baseURL, apiKey string, timeout time.Duration) *MacroClient {
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(timeout)
	return &MacroClient{http: client, apiKey: apiKey}
}

type macroResponse struct {
	Data []struct {
		Date  string `json:"date"`
		Value string `json:"value"`
	} `json:"data"`
}

// Indicators returns the latest macro readings keyed by indicator name.
func (m *MacroClient) Indicators() map[string]float64 {
	return m.IndicatorsAsOf(time.Now().UTC())
}

// IndicatorsAsOf returns the most recent reading dated on or before asOf.
// Replays pass the simulated day so the macro scorer never sees a future
// print. Entries come back newest first.
func (m *MacroClient) IndicatorsAsOf(asOf time.Time) map[string]float64 {
	if m == nil || m.apiKey == "" {
		return nil
	}
	var out macroResponse
	resp, err := m.http.R().
		SetQueryParams(map[string]string{
			"function": "FEDERAL_FUNDS_RATE",
			"limit":    "24",
			"apikey":   m.apiKey,
		}).
		SetResult(&out).
		Get("/query")
	if err != nil || resp.IsError() || len(out.Data) == 0 {
		observ.IncCounter("provider_degraded_total", map[string]string{"provider": "macro"})
		observ.Logger.Debug().Err(err).Msg("macro fetch failed, scoring without indicators")
		return nil
	}
	cutoff := asOf.Format("2006-01-02")
	for _, d := range out.Data {
		if d.Date != "" && d.Date > cutoff {
			continue
		}
		value, err := strconv.ParseFloat(d.Value, 64)
		if err != nil {
			return nil
		}
		return map[string]float64{"fed_funds_rate": value}
	}
	return nil
}
