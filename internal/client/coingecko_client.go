package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"juror_tax_report/internal/app/port"
	"juror_tax_report/internal/domain/entity"
	feed "juror_tax_report/internal/entity"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// coinGeckoClientImpl implements port.PriceProvider against the CoinGecko
// /coins/{id}/history endpoint, which takes the calendar day as a
// dd-mm-yyyy string.
type coinGeckoClientImpl struct {
	client       *fasthttp.Client
	baseURL      string
	apiKey       string
	timeout      time.Duration
	logger       *zap.Logger
	assetMapping map[string]string
}

// NewCoinGeckoClient creates a new instance of coinGeckoClientImpl.
// assetMapping translates asset symbols into CoinGecko coin ids
// (e.g. "PNK" -> "kleros").
func NewCoinGeckoClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger, assetMapping map[string]string) port.PriceProvider {
	return &coinGeckoClientImpl{
		client:       &fasthttp.Client{},
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		timeout:      timeout,
		logger:       logger.Named("CoinGeckoClient"),
		assetMapping: assetMapping,
	}
}

// Name implements the port.PriceProvider interface.
func (c *coinGeckoClientImpl) Name() string {
	return "coingecko"
}

// HistoricalPriceUSD implements the port.PriceProvider interface.
func (c *coinGeckoClientImpl) HistoricalPriceUSD(ctx context.Context, symbol string, date time.Time) (float64, error) {
	coinID, ok := c.assetMapping[strings.ToUpper(symbol)]
	if !ok {
		return 0, fmt.Errorf("no CoinGecko id mapped for symbol %q: %w", symbol, entity.ErrPriceUnavailable)
	}

	// CoinGecko's history endpoint wants dd-mm-yyyy.
	requestURL := fmt.Sprintf("%s/coins/%s/history?date=%s&localization=false",
		c.baseURL, coinID, date.UTC().Format("02-01-2006"))

	c.logger.Debug("Requesting historical price from CoinGecko",
		zap.String("symbol", symbol), zap.String("url", requestURL))

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.SetRequestURI(requestURL)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	if err := c.doRequest(ctx, req, resp); err != nil {
		return 0, fmt.Errorf("failed to execute request to %s: %w", requestURL, err)
	}

	rawBody := resp.Body()

	if resp.StatusCode() == fasthttp.StatusTooManyRequests {
		c.logger.Warn("CoinGecko rate limit hit", zap.String("url", requestURL))
		return 0, fmt.Errorf("CoinGecko returned status 429: %w", entity.ErrRateLimited)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		c.logger.Error("CoinGecko API request failed",
			zap.String("url", requestURL),
			zap.Int("statusCode", resp.StatusCode()),
			zap.ByteString("responseBody", rawBody))
		return 0, fmt.Errorf("CoinGecko request to %s failed with status %d", requestURL, resp.StatusCode())
	}

	var history feed.CoinGeckoHistory
	if err := json.Unmarshal(rawBody, &history); err != nil {
		return 0, fmt.Errorf("failed to unmarshal CoinGecko response from %s: %w", requestURL, err)
	}

	if history.MarketData == nil {
		// 200 with no market_data means no price recorded for that day.
		c.logger.Warn("CoinGecko returned no market data for day",
			zap.String("symbol", symbol),
			zap.String("date", date.UTC().Format("2006-01-02")))
		return 0, fmt.Errorf("CoinGecko has no market data for %s on %s: %w",
			symbol, date.UTC().Format("2006-01-02"), entity.ErrPriceUnavailable)
	}

	price, ok := history.MarketData.CurrentPrice["usd"]
	if !ok {
		return 0, fmt.Errorf("CoinGecko market data for %s has no usd quote: %w", symbol, entity.ErrPriceUnavailable)
	}
	return price, nil
}

func (c *coinGeckoClientImpl) doRequest(ctx context.Context, req *fasthttp.Request, resp *fasthttp.Response) error {
	if deadline, ok := ctx.Deadline(); ok {
		return c.client.DoDeadline(req, resp, deadline)
	}
	return c.client.DoTimeout(req, resp, c.timeout)
}
