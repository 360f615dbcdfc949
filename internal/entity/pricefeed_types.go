package entity

// CoinGeckoHistory is the response of the /coins/{id}/history endpoint.
// The market_data object is absent when CoinGecko has no data for the
// requested day, so it is a pointer to distinguish null from zero.
type CoinGeckoHistory struct {
	ID         string               `json:"id"`
	Symbol     string               `json:"symbol"`
	MarketData *CoinGeckoMarketData `json:"market_data"`
}

// CoinGeckoMarketData contains the price section of a history response,
// keyed by fiat currency code ("usd", "eur", ...).
type CoinGeckoMarketData struct {
	CurrentPrice map[string]float64 `json:"current_price"`
}

// CryptoCompareHistoricalResponse is the response of the
// /data/pricehistorical endpoint: the outer key is the from-symbol, the
// inner key the to-symbol, e.g. {"PNK":{"USD":0.02}}.
type CryptoCompareHistoricalResponse map[string]map[string]float64

// CryptoCompareError is the error envelope CryptoCompare returns with a
// 200 status when the request itself is rejected.
type CryptoCompareError struct {
	Response string `json:"Response"`
	Message  string `json:"Message"`
}
