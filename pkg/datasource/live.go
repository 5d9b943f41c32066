package datasource

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hourglass-exchange/hourglass/pkg/market"
	"github.com/hourglass-exchange/hourglass/pkg/orderbook"
)

// tradeMessage is the wire shape of one public trade print on the feed
// this Live DataSource dials. It intentionally mirrors a Binance-style
// combined trade stream payload, the shape the rest of this pack's
// exchange clients already decode.
type tradeMessage struct {
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	Qty       string `json:"q"`
	BuyerMake bool   `json:"m"`
	TradeTime int64  `json:"T"`
}

// Live is a DataSource backed by a websocket connection to a real-time
// trade feed. Unlike Backtest it never terminates on its own; Close stops
// it, after which Next drains any buffered trades and then returns false.
type Live struct {
	url string
	log *zap.Logger

	conn *websocket.Conn

	mu      sync.Mutex
	buf     chan MarketTrade
	closed  bool
	dialer  websocket.Dialer
	symbols map[string]market.Instrument // wire symbol -> Instrument
}

// NewLive dials url and begins streaming trades for the given wire-symbol
// to Instrument mapping into an internal buffer. Connection loss triggers
// automatic reconnect with a fixed backoff; the caller only ever sees
// Next() pause, never an error, matching spec's "lazy, finite" contract —
// exhaustion for Live means Close was called, not that the socket hiccuped.
func NewLive(url string, symbols map[string]market.Instrument, log *zap.Logger) (*Live, error) {
	if log == nil {
		log = zap.NewNop()
	}
	l := &Live{
		url:     url,
		log:     log,
		buf:     make(chan MarketTrade, 4096),
		symbols: symbols,
		dialer:  websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
	if err := l.connect(); err != nil {
		return nil, err
	}
	go l.run()
	return l, nil
}

func (l *Live) connect() error {
	conn, _, err := l.dialer.Dial(l.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", l.url, err)
	}
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
	return nil
}

func (l *Live) run() {
	for {
		l.mu.Lock()
		closed := l.closed
		conn := l.conn
		l.mu.Unlock()
		if closed {
			close(l.buf)
			return
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			l.mu.Lock()
			closedNow := l.closed
			l.mu.Unlock()
			if closedNow {
				close(l.buf)
				return
			}
			l.log.Warn("live feed read error, reconnecting", zap.Error(err))
			time.Sleep(time.Second)
			if connErr := l.connect(); connErr != nil {
				l.log.Warn("live feed reconnect failed", zap.Error(connErr))
			}
			continue
		}

		trade, ok := l.decode(raw)
		if !ok {
			continue
		}
		select {
		case l.buf <- trade:
		default:
			l.log.Warn("live feed buffer full, dropping trade")
		}
	}
}

func (l *Live) decode(raw []byte) (MarketTrade, bool) {
	var msg tradeMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return MarketTrade{}, false
	}
	inst, ok := l.symbols[strings.ToUpper(msg.Symbol)]
	if !ok {
		return MarketTrade{}, false
	}
	price, err := decimal.NewFromString(msg.Price)
	if err != nil {
		return MarketTrade{}, false
	}
	qty, err := decimal.NewFromString(msg.Qty)
	if err != nil {
		return MarketTrade{}, false
	}
	side := orderbook.Buy
	if msg.BuyerMake {
		side = orderbook.Sell
	}
	return MarketTrade{
		Exchange:    "live",
		Instrument:  inst,
		Side:        side,
		Price:       price,
		Amount:      qty,
		TimestampUS: msg.TradeTime * 1000,
	}, true
}

// Next blocks until a trade is buffered, the connection is closed and
// drained, or the stream is otherwise exhausted.
func (l *Live) Next() (MarketTrade, bool) {
	t, ok := <-l.buf
	return t, ok
}

// Close stops the read loop and closes the underlying socket.
func (l *Live) Close() error {
	l.mu.Lock()
	l.closed = true
	conn := l.conn
	l.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
