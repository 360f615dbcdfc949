package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"juror_tax_report/internal/app/port"
	"juror_tax_report/internal/domain/entity"
	feed "juror_tax_report/internal/entity"
)

// cryptoCompareClientImpl implements port.PriceProvider against the
// CryptoCompare /data/pricehistorical endpoint, which takes the day as a
// unix timestamp rather than a calendar string.
type cryptoCompareClientImpl struct {
	client  *fasthttp.Client
	baseURL string
	apiKey  string
	timeout time.Duration
	logger  *zap.Logger
}

// NewCryptoCompareClient creates a new instance of cryptoCompareClientImpl.
func NewCryptoCompareClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) port.PriceProvider {
	return &cryptoCompareClientImpl{
		client:  &fasthttp.Client{},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		timeout: timeout,
		logger:  logger.Named("CryptoCompareClient"),
	}
}

// Name implements the port.PriceProvider interface.
func (c *cryptoCompareClientImpl) Name() string {
	return "cryptocompare"
}

// HistoricalPriceUSD implements the port.PriceProvider interface.
func (c *cryptoCompareClientImpl) HistoricalPriceUSD(ctx context.Context, symbol string, date time.Time) (float64, error) {
	fsym := strings.ToUpper(symbol)
	requestURL := fmt.Sprintf("%s/data/pricehistorical?fsym=%s&tsyms=USD&ts=%d",
		c.baseURL, fsym, date.UTC().Unix())

	c.logger.Debug("Requesting historical price from CryptoCompare",
		zap.String("symbol", fsym), zap.String("url", requestURL))

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.SetRequestURI(requestURL)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Apikey "+c.apiKey)
	}

	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	if deadline, ok := ctx.Deadline(); ok {
		if err := c.client.DoDeadline(req, resp, deadline); err != nil {
			return 0, fmt.Errorf("failed to execute request to %s: %w", requestURL, err)
		}
	} else {
		if err := c.client.DoTimeout(req, resp, c.timeout); err != nil {
			return 0, fmt.Errorf("failed to execute request to %s with default timeout: %w", requestURL, err)
		}
	}

	rawBody := resp.Body()

	if resp.StatusCode() == fasthttp.StatusTooManyRequests {
		c.logger.Warn("CryptoCompare rate limit hit", zap.String("url", requestURL))
		return 0, fmt.Errorf("CryptoCompare returned status 429: %w", entity.ErrRateLimited)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		c.logger.Error("CryptoCompare API request failed",
			zap.String("url", requestURL),
			zap.Int("statusCode", resp.StatusCode()),
			zap.ByteString("responseBody", rawBody))
		return 0, fmt.Errorf("CryptoCompare request to %s failed with status %d", requestURL, resp.StatusCode())
	}

	// CryptoCompare reports request-level errors with a 200 status and an
	// error envelope, so try that shape before the price map.
	var ccErr feed.CryptoCompareError
	if err := json.Unmarshal(rawBody, &ccErr); err == nil && strings.EqualFold(ccErr.Response, "Error") {
		return 0, fmt.Errorf("CryptoCompare rejected request for %s: %s: %w", fsym, ccErr.Message, entity.ErrPriceUnavailable)
	}

	var prices feed.CryptoCompareHistoricalResponse
	if err := json.Unmarshal(rawBody, &prices); err != nil {
		return 0, fmt.Errorf("failed to unmarshal CryptoCompare response from %s: %w", requestURL, err)
	}

	quote, ok := prices[fsym]
	if !ok {
		return 0, fmt.Errorf("CryptoCompare response has no %s section: %w", fsym, entity.ErrPriceUnavailable)
	}
	price, ok := quote["USD"]
	if !ok {
		return 0, fmt.Errorf("CryptoCompare response for %s has no USD quote: %w", fsym, entity.ErrPriceUnavailable)
	}
	return price, nil
}
