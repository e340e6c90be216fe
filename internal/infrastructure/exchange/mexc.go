package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vitos/listing-sniper/internal/domain"
)

const DefaultBaseURL = "https://api.mexc.com"

// MexcAdapter is the REST side of the exchange collaborator: order
// placement, order status and ticker reads. All calls go through a
// client-side rate limiter so a tight poll loop cannot trip the API ban.
type MexcAdapter struct {
	apiKey    string
	apiSecret string
	baseURL   string
	client    *http.Client
	limiter   *rate.Limiter
	logger    *zap.Logger
	observer  func(latencyMs float64, failed bool)
}

func NewMexcAdapter(apiKey, apiSecret, baseURL string, rps float64, logger *zap.Logger) *MexcAdapter {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if rps <= 0 {
		rps = 10
	}
	return &MexcAdapter{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   baseURL,
		client:    &http.Client{Timeout: 10 * time.Second},
		limiter:   rate.NewLimiter(rate.Limit(rps), int(rps)),
		logger:    logger,
	}
}

// OnRequest registers a callback invoked after every REST call with its
// latency and outcome. Not safe to call after the adapter is in use.
func (m *MexcAdapter) OnRequest(fn func(latencyMs float64, failed bool)) {
	m.observer = fn
}

func (m *MexcAdapter) observe(started time.Time, err error) {
	if m.observer != nil {
		m.observer(float64(time.Since(started).Milliseconds()), err != nil)
	}
}

func (m *MexcAdapter) sign(query string) string {
	h := hmac.New(sha256.New, []byte(m.apiSecret))
	h.Write([]byte(query))
	return hex.EncodeToString(h.Sum(nil))
}

func (m *MexcAdapter) signedRequest(ctx context.Context, method, path string, params url.Values) (body []byte, err error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	started := time.Now()
	defer func() { m.observe(started, err) }()

	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", "5000")
	query := params.Encode()
	query += "&signature=" + m.sign(query)

	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path+"?"+query, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MEXC-APIKEY", m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("mexc %s %s: %s", method, path, string(body))
	}
	return body, nil
}

// PlaceOrder submits a market order and returns its reference.
func (m *MexcAdapter) PlaceOrder(ctx context.Context, symbol string, side domain.Side, qty float64) (domain.OrderRef, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("type", "MARKET")
	params.Set("quoteOrderQty", strconv.FormatFloat(qty, 'f', -1, 64))

	body, err := m.signedRequest(ctx, http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return domain.OrderRef{}, fmt.Errorf("place order: %w", err)
	}

	var result struct {
		OrderID json.Number `json:"orderId"`
		Symbol  string      `json:"symbol"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return domain.OrderRef{}, fmt.Errorf("decode order response: %w", err)
	}

	m.logger.Info("order placed",
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.String("order_id", result.OrderID.String()))

	return domain.OrderRef{
		OrderID: result.OrderID.String(),
		Symbol:  symbol,
		Side:    side,
	}, nil
}

// GetOrderStatus fetches the current state of one order.
func (m *MexcAdapter) GetOrderStatus(ctx context.Context, symbol, orderID string) (domain.OrderState, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	body, err := m.signedRequest(ctx, http.MethodGet, "/api/v3/order", params)
	if err != nil {
		return domain.OrderState{}, fmt.Errorf("order status: %w", err)
	}

	var result struct {
		Status      string `json:"status"`
		Price       string `json:"price"`
		ExecutedQty string `json:"executedQty"`
		QuoteQty    string `json:"cummulativeQuoteQty"`
		UpdateTime  int64  `json:"updateTime"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return domain.OrderState{}, fmt.Errorf("decode status response: %w", err)
	}

	price, _ := strconv.ParseFloat(result.Price, 64)
	executed, _ := strconv.ParseFloat(result.ExecutedQty, 64)
	quote, _ := strconv.ParseFloat(result.QuoteQty, 64)

	return domain.OrderState{
		Status:      domain.OrderStatus(result.Status),
		Price:       price,
		ExecutedQty: executed,
		QuoteQty:    quote,
		UpdatedAt:   time.UnixMilli(result.UpdateTime),
	}, nil
}

// GetTicker reads the 24h ticker over REST. Used for the initial snapshot;
// the stream manager supplies live ticks afterwards.
func (m *MexcAdapter) GetTicker(ctx context.Context, symbol string) (domain.PriceTick, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return domain.PriceTick{}, err
	}

	resp, err := m.client.Get(m.baseURL + "/api/v3/ticker/24hr?symbol=" + url.QueryEscape(symbol))
	if err != nil {
		return domain.PriceTick{}, fmt.Errorf("ticker: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.PriceTick{}, err
	}
	if resp.StatusCode >= 400 {
		return domain.PriceTick{}, fmt.Errorf("ticker %s: %s", symbol, string(body))
	}

	var result struct {
		Symbol             string `json:"symbol"`
		LastPrice          string `json:"lastPrice"`
		PriceChange        string `json:"priceChange"`
		PriceChangePercent string `json:"priceChangePercent"`
		Volume             string `json:"volume"`
		HighPrice          string `json:"highPrice"`
		LowPrice           string `json:"lowPrice"`
		BidPrice           string `json:"bidPrice"`
		AskPrice           string `json:"askPrice"`
		CloseTime          int64  `json:"closeTime"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return domain.PriceTick{}, fmt.Errorf("decode ticker: %w", err)
	}

	last, _ := strconv.ParseFloat(result.LastPrice, 64)
	change, _ := strconv.ParseFloat(result.PriceChange, 64)
	changePct, _ := strconv.ParseFloat(result.PriceChangePercent, 64)
	volume, _ := strconv.ParseFloat(result.Volume, 64)
	high, _ := strconv.ParseFloat(result.HighPrice, 64)
	low, _ := strconv.ParseFloat(result.LowPrice, 64)
	bid, _ := strconv.ParseFloat(result.BidPrice, 64)
	ask, _ := strconv.ParseFloat(result.AskPrice, 64)

	return domain.PriceTick{
		Symbol:       result.Symbol,
		LastPrice:    last,
		Change24h:    change,
		ChangePct24h: changePct,
		Volume24h:    volume,
		High24h:      high,
		Low24h:       low,
		Bid:          bid,
		Ask:          ask,
		EventTime:    time.UnixMilli(result.CloseTime),
		TradeTime:    time.UnixMilli(result.CloseTime),
	}, nil
}
