package broker

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/shritish20/Volguard/internal/models"
)

// Instrument keys for the underlyings.
const (
	NiftyKey = "NSE_INDEX|Nifty 50"
	VIXKey   = "NSE_INDEX|India VIX"
)

// UpstoxAPI is the REST gateway to Upstox. All calls retry transient
// failures internally; an AuthExpired response triggers one token refresh
// and a single replay of the original call.
type UpstoxAPI struct {
	client  *resty.Client
	session *Session
	logger  *logrus.Logger
	retry   retryPolicy

	mu      sync.Mutex
	lotSize int // from instrument metadata, cached per process
}

var _ Broker = (*UpstoxAPI)(nil)

// NewUpstoxAPI builds the gateway.
func NewUpstoxAPI(baseURL string, timeout time.Duration, maxRetries int,
	session *Session, logger *logrus.Logger) *UpstoxAPI {
	retry := defaultRetryPolicy
	if maxRetries > 0 {
		retry.maxRetries = maxRetries
	}
	return &UpstoxAPI{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
		session: session,
		logger:  logger,
		retry:   retry,
	}
}

// call runs one authenticated request with retry and a single auth-refresh
// replay. fn must be safe to re-run until the broker assigns an order id.
func (u *UpstoxAPI) call(ctx context.Context, op string, fn func(token string) error) error {
	attempt := func() error {
		token, err := u.session.Token(ctx)
		if err != nil {
			return err
		}
		return fn(token)
	}

	err := u.retry.do(ctx, u.logger, op, attempt)
	if IsAuthExpired(err) {
		if rerr := u.session.ForceRefresh(ctx); rerr != nil {
			return NewError(KindFatal, 0, fmt.Sprintf("%s: auth refresh failed: %v", op, rerr))
		}
		err = attempt()
		if IsAuthExpired(err) {
			return NewError(KindFatal, 0, fmt.Sprintf("%s: auth still rejected after refresh", op))
		}
	}
	return err
}

// respError converts an HTTP error response into a typed broker error.
func respError(resp *resty.Response) error {
	if !resp.IsError() {
		return nil
	}
	body := resp.String()
	if len(body) > 300 {
		body = body[:300]
	}
	return NewError(kindFromStatus(resp.StatusCode()), resp.StatusCode(), body)
}

type placeOrderRequest struct {
	Quantity        int     `json:"quantity"`
	Product         string  `json:"product"`
	Validity        string  `json:"validity"`
	Price           float64 `json:"price"`
	InstrumentToken string  `json:"instrument_token"`
	OrderType       string  `json:"order_type"`
	TransactionType string  `json:"transaction_type"`
	DisclosedQty    int     `json:"disclosed_quantity"`
	TriggerPrice    float64 `json:"trigger_price"`
	IsAMO           bool    `json:"is_amo"`
}

// PlaceOrder places a limit order for one leg and returns the broker order id.
func (u *UpstoxAPI) PlaceOrder(ctx context.Context, leg models.OptionLeg, limitPrice float64) (string, error) {
	return u.placeOrder(ctx, leg, "LIMIT", limitPrice)
}

// PlaceMarketOrder places a market order for one leg.
func (u *UpstoxAPI) PlaceMarketOrder(ctx context.Context, leg models.OptionLeg) (string, error) {
	return u.placeOrder(ctx, leg, "MARKET", 0)
}

func (u *UpstoxAPI) placeOrder(ctx context.Context, leg models.OptionLeg, orderType string, price float64) (string, error) {
	if err := leg.Validate(); err != nil {
		return "", NewError(KindRejected, 0, err.Error())
	}

	var out struct {
		Data struct {
			OrderID string `json:"order_id"`
		} `json:"data"`
	}
	req := placeOrderRequest{
		Quantity:        leg.Quantity,
		Product:         "D",
		Validity:        "DAY",
		Price:           price,
		InstrumentToken: leg.InstrumentKey,
		OrderType:       orderType,
		TransactionType: string(leg.Side),
	}

	// Placement is only retried while the broker reports "not placed"; once
	// an order id exists the caller owns idempotency, so this call runs
	// without the retry wrapper beyond the token fetch.
	token, err := u.session.Token(ctx)
	if err != nil {
		return "", err
	}
	resp, err := u.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(req).
		SetResult(&out).
		Post("/order/place")
	if err != nil {
		return "", NewError(KindTransient, 0, fmt.Sprintf("place order: %v", err))
	}
	if err := respError(resp); err != nil {
		return "", err
	}
	if out.Data.OrderID == "" {
		return "", NewError(KindRejected, resp.StatusCode(), "order placement returned no order id")
	}
	u.logger.WithFields(logrus.Fields{
		"order_id":   out.Data.OrderID,
		"instrument": leg.InstrumentKey,
		"side":       leg.Side,
		"qty":        leg.Quantity,
		"type":       orderType,
	}).Debug("order placed")
	return out.Data.OrderID, nil
}

// GetOrderStatus fetches the current state of an order.
func (u *UpstoxAPI) GetOrderStatus(ctx context.Context, orderID string) (*OrderStatus, error) {
	var out struct {
		Data struct {
			Status         string  `json:"status"`
			FilledQuantity int     `json:"filled_quantity"`
			AveragePrice   float64 `json:"average_price"`
		} `json:"data"`
	}
	err := u.call(ctx, "order status", func(token string) error {
		resp, err := u.client.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetQueryParam("order_id", orderID).
			SetResult(&out).
			Get("/order/details")
		if err != nil {
			return NewError(KindTransient, 0, fmt.Sprintf("order status: %v", err))
		}
		return respError(resp)
	})
	if err != nil {
		return nil, err
	}
	return &OrderStatus{
		OrderID:   orderID,
		State:     mapOrderState(out.Data.Status),
		FilledQty: out.Data.FilledQuantity,
		AvgPrice:  out.Data.AveragePrice,
	}, nil
}

func mapOrderState(s string) OrderState {
	switch strings.ToLower(s) {
	case "complete", "filled":
		return OrderComplete
	case "rejected":
		return OrderRejected
	case "cancelled", "canceled":
		return OrderCancelled
	case "open", "trigger pending", "modified":
		return OrderOpen
	default:
		return OrderPending
	}
}

// CancelOrder cancels an open order. Cancelling an already-terminal order is
// not an error; the follow-up status check decides what actually happened.
func (u *UpstoxAPI) CancelOrder(ctx context.Context, orderID string) error {
	return u.call(ctx, "cancel order", func(token string) error {
		resp, err := u.client.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetQueryParam("order_id", orderID).
			Delete("/order/cancel")
		if err != nil {
			return NewError(KindTransient, 0, fmt.Sprintf("cancel order: %v", err))
		}
		if resp.StatusCode() == 400 && strings.Contains(strings.ToLower(resp.String()), "complete") {
			return nil
		}
		return respError(resp)
	})
}

// GetLTP returns the last traded price for an instrument.
func (u *UpstoxAPI) GetLTP(ctx context.Context, instrumentKey string) (float64, error) {
	var out struct {
		Data map[string]struct {
			LastPrice float64 `json:"last_price"`
		} `json:"data"`
	}
	err := u.call(ctx, "ltp", func(token string) error {
		resp, err := u.client.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetQueryParam("instrument_key", instrumentKey).
			SetResult(&out).
			Get("/market-quote/ltp")
		if err != nil {
			return NewError(KindTransient, 0, fmt.Sprintf("ltp: %v", err))
		}
		return respError(resp)
	})
	if err != nil {
		return 0, err
	}
	// The response keys replace '|' with ':'.
	for _, v := range out.Data {
		return v.LastPrice, nil
	}
	return 0, NewError(KindNotFound, 0, fmt.Sprintf("no quote for %s", instrumentKey))
}

type chainResponse struct {
	Data []struct {
		Expiry      string  `json:"expiry"`
		StrikePrice float64 `json:"strike_price"`
		CallOptions struct {
			InstrumentKey string `json:"instrument_key"`
			MarketData    struct {
				LTP      float64 `json:"ltp"`
				BidPrice float64 `json:"bid_price"`
				AskPrice float64 `json:"ask_price"`
				OI       float64 `json:"oi"`
			} `json:"market_data"`
			OptionGreeks struct {
				IV    float64 `json:"iv"`
				Delta float64 `json:"delta"`
				Gamma float64 `json:"gamma"`
			} `json:"option_greeks"`
		} `json:"call_options"`
		PutOptions struct {
			InstrumentKey string `json:"instrument_key"`
			MarketData    struct {
				LTP      float64 `json:"ltp"`
				BidPrice float64 `json:"bid_price"`
				AskPrice float64 `json:"ask_price"`
				OI       float64 `json:"oi"`
			} `json:"market_data"`
			OptionGreeks struct {
				IV    float64 `json:"iv"`
				Delta float64 `json:"delta"`
				Gamma float64 `json:"gamma"`
			} `json:"option_greeks"`
		} `json:"put_options"`
	} `json:"data"`
}

// GetOptionChain returns the full chain for one expiry, sorted by strike.
// Lot size comes from the instrument metadata, never a literal.
func (u *UpstoxAPI) GetOptionChain(ctx context.Context, expiry string) ([]models.ChainRow, error) {
	lotSize, err := u.fetchLotSize(ctx)
	if err != nil {
		return nil, err
	}

	var out chainResponse
	err = u.call(ctx, "option chain", func(token string) error {
		resp, err := u.client.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetQueryParams(map[string]string{
				"instrument_key": NiftyKey,
				"expiry_date":    expiry,
			}).
			SetResult(&out).
			Get("/option/chain")
		if err != nil {
			return NewError(KindTransient, 0, fmt.Sprintf("option chain: %v", err))
		}
		return respError(resp)
	})
	if err != nil {
		return nil, err
	}

	rows := make([]models.ChainRow, 0, len(out.Data))
	for _, d := range out.Data {
		rows = append(rows, models.ChainRow{
			Strike:    d.StrikePrice,
			Expiry:    d.Expiry,
			LotSize:   lotSize,
			CallKey:   d.CallOptions.InstrumentKey,
			CallLTP:   d.CallOptions.MarketData.LTP,
			CallBid:   d.CallOptions.MarketData.BidPrice,
			CallAsk:   d.CallOptions.MarketData.AskPrice,
			CallOI:    d.CallOptions.MarketData.OI,
			CallIV:    d.CallOptions.OptionGreeks.IV,
			CallDelta: d.CallOptions.OptionGreeks.Delta,
			CallGamma: d.CallOptions.OptionGreeks.Gamma,
			PutKey:    d.PutOptions.InstrumentKey,
			PutLTP:    d.PutOptions.MarketData.LTP,
			PutBid:    d.PutOptions.MarketData.BidPrice,
			PutAsk:    d.PutOptions.MarketData.AskPrice,
			PutOI:     d.PutOptions.MarketData.OI,
			PutIV:     d.PutOptions.OptionGreeks.IV,
			PutDelta:  d.PutOptions.OptionGreeks.Delta,
			PutGamma:  d.PutOptions.OptionGreeks.Gamma,
		})
	}
	return rows, nil
}

type contractResponse struct {
	Data []struct {
		Expiry  string `json:"expiry"`
		LotSize int    `json:"lot_size"`
	} `json:"data"`
}

func (u *UpstoxAPI) fetchContracts(ctx context.Context) (*contractResponse, error) {
	var out contractResponse
	err := u.call(ctx, "option contracts", func(token string) error {
		resp, err := u.client.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetQueryParam("instrument_key", NiftyKey).
			SetResult(&out).
			Get("/option/contract")
		if err != nil {
			return NewError(KindTransient, 0, fmt.Sprintf("option contracts: %v", err))
		}
		return respError(resp)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (u *UpstoxAPI) fetchLotSize(ctx context.Context) (int, error) {
	u.mu.Lock()
	cached := u.lotSize
	u.mu.Unlock()
	if cached > 0 {
		return cached, nil
	}

	out, err := u.fetchContracts(ctx)
	if err != nil {
		return 0, err
	}
	for _, d := range out.Data {
		if d.LotSize > 0 {
			u.mu.Lock()
			u.lotSize = d.LotSize
			u.mu.Unlock()
			return d.LotSize, nil
		}
	}
	return 0, NewError(KindNotFound, 0, "instrument metadata carries no lot size")
}

// GetExpiries lists available option expiries for the underlying.
func (u *UpstoxAPI) GetExpiries(ctx context.Context) ([]string, error) {
	out, err := u.fetchContracts(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var expiries []string
	for _, d := range out.Data {
		if !seen[d.Expiry] {
			seen[d.Expiry] = true
			expiries = append(expiries, d.Expiry)
		}
	}
	return expiries, nil
}

// GetHistoricalCandles fetches daily (or intraday) candles covering the last
// N days, oldest first.
func (u *UpstoxAPI) GetHistoricalCandles(ctx context.Context, instrumentKey, interval string, days int) ([]models.Candle, error) {
	to := time.Now().Format("2006-01-02")
	from := time.Now().AddDate(0, 0, -days).Format("2006-01-02")

	var out struct {
		Data struct {
			Candles [][]interface{} `json:"candles"`
		} `json:"data"`
	}
	err := u.call(ctx, "historical candles", func(token string) error {
		resp, err := u.client.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetResult(&out).
			Get(fmt.Sprintf("/historical-candle/%s/%s/%s/%s", instrumentKey, interval, to, from))
		if err != nil {
			return NewError(KindTransient, 0, fmt.Sprintf("historical candles: %v", err))
		}
		return respError(resp)
	})
	if err != nil {
		return nil, err
	}

	candles := make([]models.Candle, 0, len(out.Data.Candles))
	for _, raw := range out.Data.Candles {
		c, ok := parseCandle(raw)
		if ok {
			candles = append(candles, c)
		}
	}
	// Upstox returns newest first.
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

func parseCandle(raw []interface{}) (models.Candle, bool) {
	if len(raw) < 6 {
		return models.Candle{}, false
	}
	ts, ok := raw[0].(string)
	if !ok {
		return models.Candle{}, false
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return models.Candle{}, false
	}
	nums := make([]float64, 5)
	for i := 1; i <= 5; i++ {
		f, ok := raw[i].(float64)
		if !ok {
			return models.Candle{}, false
		}
		nums[i-1] = f
	}
	return models.Candle{
		Time: t, Open: nums[0], High: nums[1], Low: nums[2], Close: nums[3], Volume: nums[4],
	}, true
}

// RequiredMargin asks the broker for the margin a basket of legs needs.
// On failure it returns +Inf so callers fail the margin check closed.
func (u *UpstoxAPI) RequiredMargin(ctx context.Context, legs []models.OptionLeg) (float64, error) {
	type instrument struct {
		InstrumentKey   string  `json:"instrument_key"`
		Quantity        int     `json:"quantity"`
		TransactionType string  `json:"transaction_type"`
		Product         string  `json:"product"`
		Price           float64 `json:"price"`
	}
	body := struct {
		Instruments []instrument `json:"instruments"`
	}{}
	for _, l := range legs {
		body.Instruments = append(body.Instruments, instrument{
			InstrumentKey:   l.InstrumentKey,
			Quantity:        l.Quantity,
			TransactionType: string(l.Side),
			Product:         "D",
			Price:           l.RefPrice,
		})
	}

	var out struct {
		Data struct {
			RequiredMargin float64 `json:"required_margin"`
			FinalMargin    float64 `json:"final_margin"`
		} `json:"data"`
	}
	err := u.call(ctx, "required margin", func(token string) error {
		resp, err := u.client.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetBody(body).
			SetResult(&out).
			Post("/charges/margin")
		if err != nil {
			return NewError(KindTransient, 0, fmt.Sprintf("required margin: %v", err))
		}
		return respError(resp)
	})
	if err != nil {
		return math.Inf(1), err
	}
	margin := out.Data.FinalMargin
	if margin == 0 {
		margin = out.Data.RequiredMargin
	}
	return margin, nil
}

// AvailableFunds returns the usable equity margin.
func (u *UpstoxAPI) AvailableFunds(ctx context.Context) (float64, error) {
	var out struct {
		Data struct {
			Equity struct {
				AvailableMargin float64 `json:"available_margin"`
			} `json:"equity"`
		} `json:"data"`
	}
	err := u.call(ctx, "available funds", func(token string) error {
		resp, err := u.client.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetResult(&out).
			Get("/user/get-funds-and-margin")
		if err != nil {
			return NewError(KindTransient, 0, fmt.Sprintf("available funds: %v", err))
		}
		return respError(resp)
	})
	if err != nil {
		return 0, err
	}
	return out.Data.Equity.AvailableMargin, nil
}

// ExitAllPositions asks the broker to flatten everything it holds.
func (u *UpstoxAPI) ExitAllPositions(ctx context.Context) error {
	return u.call(ctx, "exit all positions", func(token string) error {
		resp, err := u.client.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetBody(map[string]interface{}{}).
			Post("/order/positions/exit")
		if err != nil {
			return NewError(KindTransient, 0, fmt.Sprintf("exit all: %v", err))
		}
		return respError(resp)
	})
}

// StreamAuthorizeURL returns the authorized websocket endpoint for the
// market-data feed.
func (u *UpstoxAPI) StreamAuthorizeURL(ctx context.Context) (string, error) {
	var out struct {
		Data struct {
			AuthorizedRedirectURI string `json:"authorized_redirect_uri"`
		} `json:"data"`
	}
	err := u.call(ctx, "stream authorize", func(token string) error {
		resp, err := u.client.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetResult(&out).
			Get("/feed/market-data-feed/authorize")
		if err != nil {
			return NewError(KindTransient, 0, fmt.Sprintf("stream authorize: %v", err))
		}
		return respError(resp)
	})
	if err != nil {
		return "", err
	}
	if out.Data.AuthorizedRedirectURI == "" {
		return "", NewError(KindNotFound, 0, "no authorized stream endpoint returned")
	}
	return out.Data.AuthorizedRedirectURI, nil
}
