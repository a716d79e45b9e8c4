// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/AleutianAI/AleutianRetrieval/pkg/validation"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/datatypes"
)

// Compile-time interface compliance.
var (
	_ Provider = (*InfluxMarkets)(nil)
	_ Provider = (*YahooChart)(nil)
)

// =============================================================================
// InfluxDB (keyed)
// =============================================================================

// InfluxMarkets is the keyed primary of the markets lane, querying the
// OHLCV series the data-fetcher service writes into InfluxDB.
type InfluxMarkets struct {
	queryAPI api.QueryAPI
	bucket   string
}

// NewInfluxMarkets creates the InfluxDB market-data provider. A nil
// queryAPI leaves it unconfigured.
func NewInfluxMarkets(queryAPI api.QueryAPI, bucket string) *InfluxMarkets {
	if bucket == "" {
		bucket = "market_data"
	}
	return &InfluxMarkets{queryAPI: queryAPI, bucket: bucket}
}

// Name implements Provider.
func (p *InfluxMarkets) Name() string { return "markets.influx" }

// IsKeyed implements Provider.
func (p *InfluxMarkets) IsKeyed() bool { return true }

// Search implements Provider. Tickers come from the constraint mapping;
// each validated ticker yields one item summarizing its latest close.
// Tickers pass through pkg/validation before interpolation into Flux —
// the query string is assembled by hand, so this is the injection guard.
func (p *InfluxMarkets) Search(ctx context.Context, q Query) ([]datatypes.RetrievalItem, error) {
	if p.queryAPI == nil {
		return nil, ErrNotConfigured
	}
	tickers := q.Constraints.Tickers
	if len(tickers) == 0 {
		return nil, nil
	}
	if err := validation.ValidateTickers(tickers); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := validation.ValidateInterval(q.Constraints.Interval); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	window := "-24h"
	if q.Constraints.Interval != "" {
		// Widen the lookback so sparse intervals still have a point.
		window = "-7d"
	}

	quoted := make([]string, len(tickers))
	for i, t := range tickers {
		quoted[i] = fmt.Sprintf("%q", t)
	}
	flux := fmt.Sprintf(`from(bucket: %q)
  |> range(start: %s)
  |> filter(fn: (r) => r._measurement == "ohlcv" and r._field == "close")
  |> filter(fn: (r) => contains(value: r.ticker, set: [%s]))
  |> last()`, p.bucket, window, strings.Join(quoted, ", "))

	result, err := p.queryAPI.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("influx query: %w", err)
	}
	defer result.Close()

	var items []datatypes.RetrievalItem
	for result.Next() {
		record := result.Record()
		ticker, _ := record.ValueByKey("ticker").(string)
		if ticker == "" {
			continue
		}
		close, ok := record.Value().(float64)
		if !ok {
			continue
		}
		items = append(items, datatypes.RetrievalItem{
			ID:             "influx:" + ticker + ":" + record.Time().Format(time.RFC3339),
			Title:          fmt.Sprintf("%s latest close", ticker),
			Snippet:        fmt.Sprintf("%s closed at %.2f (%s)", ticker, close, record.Time().Format(time.RFC3339)),
			Domain:         "influx.internal",
			RelevanceScore: 1.0,
			Timestamp:      record.Time(),
		})
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("influx result: %w", result.Err())
	}
	return items, nil
}

// =============================================================================
// Yahoo Finance chart API (keyless)
// =============================================================================

// yahooChartEndpoint is the public chart endpoint; no credential needed.
const yahooChartEndpoint = "https://query1.finance.yahoo.com/v8/finance/chart/"

// YahooChart is the keyless fallback of the markets lane.
type YahooChart struct {
	client HTTPClient
}

// NewYahooChart creates the Yahoo chart provider.
func NewYahooChart(client HTTPClient) *YahooChart {
	if client == nil {
		client = http.DefaultClient
	}
	return &YahooChart{client: client}
}

// Name implements Provider.
func (p *YahooChart) Name() string { return "markets.yahoo" }

// IsKeyed implements Provider.
func (p *YahooChart) IsKeyed() bool { return false }

// yahooChartResponse mirrors the chart payload shape.
type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Currency           string  `json:"currency"`
				Symbol             string  `json:"symbol"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				RegularMarketTime  int64   `json:"regularMarketTime"`
			} `json:"meta"`
		} `json:"result"`
		Error any `json:"error"`
	} `json:"chart"`
}

// Search implements Provider. One request per ticker, sequential: the
// markets lane rarely carries more than a couple of symbols and the whole
// call is already bounded by the provider timeout.
func (p *YahooChart) Search(ctx context.Context, q Query) ([]datatypes.RetrievalItem, error) {
	tickers := q.Constraints.Tickers
	if len(tickers) == 0 {
		return nil, nil
	}
	if err := validation.ValidateTickers(tickers); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := validation.ValidateInterval(q.Constraints.Interval); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	interval := q.Constraints.Interval
	if interval == "" {
		interval = "1d"
	}

	var items []datatypes.RetrievalItem
	for _, ticker := range tickers {
		params := url.Values{}
		params.Set("interval", interval)
		params.Set("range", "1d")

		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			yahooChartEndpoint+url.PathEscape(ticker)+"?"+params.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("build yahoo request: %w", err)
		}
		req.Header.Set("User-Agent", "aleutian-retrieval/1.0")

		var body yahooChartResponse
		if err := doJSON(p.client, req, &body); err != nil {
			return nil, err
		}
		if len(body.Chart.Result) == 0 {
			continue
		}
		meta := body.Chart.Result[0].Meta
		ts := time.Unix(meta.RegularMarketTime, 0).UTC()
		items = append(items, datatypes.RetrievalItem{
			ID:    "yahoo:" + meta.Symbol + ":" + ts.Format(time.RFC3339),
			Title: fmt.Sprintf("%s market price", meta.Symbol),
			Snippet: fmt.Sprintf("%s trading at %.2f %s (%s)",
				meta.Symbol, meta.RegularMarketPrice, meta.Currency, ts.Format(time.RFC3339)),
			URL:            "https://finance.yahoo.com/quote/" + url.PathEscape(meta.Symbol),
			RelevanceScore: 1.0,
			Timestamp:      ts,
		})
	}
	return items, nil
}
