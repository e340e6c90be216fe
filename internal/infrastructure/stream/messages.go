package stream

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/vitos/listing-sniper/internal/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ChannelKind names a feed subscription channel.
type ChannelKind string

const (
	ChannelTickers ChannelKind = "tickers"
	ChannelStatus  ChannelKind = "status"
)

const (
	tickerTopicPrefix = "spot@public.miniTicker.v3.api@"
	statusTopicPrefix = "spot@public.symbolStatus.v3.api@"
)

func topicFor(kind ChannelKind, symbol string) string {
	switch kind {
	case ChannelStatus:
		return statusTopicPrefix + symbol
	default:
		return tickerTopicPrefix + symbol
	}
}

type subscribeFrame struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
}

type pingFrame struct {
	Method string `json:"method"`
}

// envelope covers every frame shape the feed sends. Which fields are set
// decides the message kind.
type envelope struct {
	Channel string              `json:"c"`
	Symbol  string              `json:"s"`
	Data    jsoniter.RawMessage `json:"d"`
	Time    int64               `json:"t"`
	Msg     string              `json:"msg"`
	Code    *int                `json:"code"`
	ID      int                 `json:"id"`
}

type tickerData struct {
	Price        string `json:"p"`
	Change       string `json:"r"`
	ChangePct    string `json:"rp"`
	Volume       string `json:"v"`
	High         string `json:"h"`
	Low          string `json:"l"`
	Bid          string `json:"b"`
	Ask          string `json:"a"`
	TradeTimeMs  int64  `json:"tt"`
}

type statusData struct {
	ExchangeID string `json:"id"`
	Sts        int    `json:"sts"`
	St         int    `json:"st"`
	Tt         int    `json:"tt"`
}

// Message is the closed set of inbound frame kinds. Exactly one branch of
// the switch in the manager handles each.
type Message interface{ kind() string }

type TickerMessage struct{ Tick domain.PriceTick }

type StatusMessage struct{ Status domain.SymbolStatus }

type PongMessage struct{}

// AckMessage is a subscription acknowledgement or rejection.
type AckMessage struct {
	ID   int
	Code int
	Msg  string
}

// UnknownMessage wraps a frame no branch recognized; it is logged, never
// silently dropped.
type UnknownMessage struct{ Raw []byte }

func (TickerMessage) kind() string  { return "ticker" }
func (StatusMessage) kind() string  { return "status" }
func (PongMessage) kind() string    { return "pong" }
func (AckMessage) kind() string     { return "ack" }
func (UnknownMessage) kind() string { return "unknown" }

// parseMessage maps one raw frame onto the Message union.
func parseMessage(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	switch {
	case strings.EqualFold(env.Msg, "PONG"):
		return PongMessage{}, nil

	case env.Code != nil:
		return AckMessage{ID: env.ID, Code: *env.Code, Msg: env.Msg}, nil

	case strings.HasPrefix(env.Channel, tickerTopicPrefix):
		var d tickerData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return nil, fmt.Errorf("decode ticker for %s: %w", env.Symbol, err)
		}
		// Price, volume and change% feed pattern scoring; a garbled value
		// must surface as a parse error, not a silent zero.
		price, err := parseFloat(d.Price)
		if err != nil {
			return nil, fmt.Errorf("ticker price for %s: %w", env.Symbol, err)
		}
		volume, err := parseFloat(d.Volume)
		if err != nil {
			return nil, fmt.Errorf("ticker volume for %s: %w", env.Symbol, err)
		}
		changePct, err := parseFloat(d.ChangePct)
		if err != nil {
			return nil, fmt.Errorf("ticker change%% for %s: %w", env.Symbol, err)
		}
		tick := domain.PriceTick{
			Symbol:       env.Symbol,
			LastPrice:    price,
			Change24h:    parseFloatLoose(d.Change),
			ChangePct24h: changePct,
			Volume24h:    volume,
			High24h:      parseFloatLoose(d.High),
			Low24h:       parseFloatLoose(d.Low),
			Bid:          parseFloatLoose(d.Bid),
			Ask:          parseFloatLoose(d.Ask),
			EventTime:    time.UnixMilli(env.Time),
			TradeTime:    time.UnixMilli(d.TradeTimeMs),
		}
		if tick.Symbol == "" || tick.LastPrice <= 0 {
			return nil, fmt.Errorf("ticker frame missing symbol or price")
		}
		return TickerMessage{Tick: tick}, nil

	case strings.HasPrefix(env.Channel, statusTopicPrefix):
		var d statusData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return nil, fmt.Errorf("decode status for %s: %w", env.Symbol, err)
		}
		if env.Symbol == "" {
			return nil, fmt.Errorf("status frame missing symbol")
		}
		return StatusMessage{Status: domain.SymbolStatus{
			Symbol:     env.Symbol,
			ExchangeID: d.ExchangeID,
			Sts:        d.Sts,
			St:         d.St,
			Tt:         d.Tt,
			Timestamp:  time.UnixMilli(env.Time),
		}}, nil
	}

	return UnknownMessage{Raw: raw}, nil
}

// parseFloat treats an absent field as zero but rejects garbage.
func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

// parseFloatLoose is for display-only fields where a bad value is not
// worth dropping the frame over.
func parseFloatLoose(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
