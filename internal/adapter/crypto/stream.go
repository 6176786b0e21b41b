package crypto

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/adapter"
	"github.com/aristath/sentinel/internal/domain"
)

const (
	pingInterval         = 20 * time.Second
	readTimeout          = 60 * time.Second
	baseReconnectDelay    = time.Second
	maxReconnectDelay     = 30 * time.Second
	writeWait             = 5 * time.Second
)

// feed owns one websocket connection and fans out decoded trade ticks.
// run's goroutine is the only reader of conn; pingLoop writes pings to it
// from a second goroutine.
type feed struct {
	url     string
	symbols []domain.Symbol
	log     zerolog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	stopped bool
	stopCh  chan struct{}

	out chan adapter.StreamEvent
}

func newFeed(url string, symbols []domain.Symbol, log zerolog.Logger) *feed {
	return &feed{
		url: url, symbols: symbols,
		log:    log.With().Str("component", "crypto_feed").Logger(),
		stopCh: make(chan struct{}),
		out:    make(chan adapter.StreamEvent, 1024),
	}
}

func (f *feed) run(ctx context.Context) {
	defer close(f.out)
	attempt := 0
	firstConnect := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stopCh:
			return
		default:
		}

		if err := f.connectAndRead(ctx, !firstConnect); err != nil {
			f.log.Warn().Err(err).Int("attempt", attempt).Msg("crypto feed disconnected")
			select {
			case f.out <- adapter.StreamEvent{Kind: adapter.StreamEventError, Err: err}:
			default:
			}
		}
		firstConnect = false

		select {
		case <-ctx.Done():
			return
		case <-f.stopCh:
			return
		default:
		}

		attempt++
		select {
		case <-time.After(backoffDelay(attempt)):
		case <-ctx.Done():
			return
		case <-f.stopCh:
			return
		}
	}
}

func backoffDelay(attempt int) time.Duration {
	d := time.Duration(float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1)))
	if d > maxReconnectDelay {
		d = maxReconnectDelay
	}
	return d
}

func (f *feed) connectAndRead(ctx context.Context, emitResync bool) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	defer conn.Close()

	if err := f.subscribe(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	if emitResync {
		select {
		case f.out <- adapter.StreamEvent{Kind: adapter.StreamEventResynced}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		md, ok, err := decodeMessage(data)
		if err != nil {
			f.log.Warn().Err(err).Msg("failed to decode stream message")
			continue
		}
		if !ok {
			continue
		}
		select {
		case f.out <- adapter.StreamEvent{Kind: adapter.StreamEventData, Data: md}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (f *feed) subscribe() error {
	streams := make([]string, 0, len(f.symbols))
	for _, sym := range f.symbols {
		streams = append(streams, sym.String()+"@trade")
	}
	msg := wireSubscribe{Method: "SUBSCRIBE", Params: streams, ID: 1}
	return f.writeJSON(msg)
}

func (f *feed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.mu.Lock()
			conn := f.conn
			f.mu.Unlock()
			if conn == nil {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				f.log.Warn().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

func (f *feed) writeJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("crypto: websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return f.conn.WriteJSON(v)
}

func (f *feed) stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return
	}
	f.stopped = true
	close(f.stopCh)
	if f.conn != nil {
		f.conn.Close()
	}
}

type wireSubscribe struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

// wireTrade is the venue's wire shape for one trade tick.
type wireTrade struct {
	Symbol string `json:"s"`
	Price  string `json:"p"`
	Qty    string `json:"q"`
	Ts     int64  `json:"T"`
}

func decodeMessage(data []byte) (domain.MarketData, bool, error) {
	var wt wireTrade
	if err := json.Unmarshal(data, &wt); err != nil {
		return domain.MarketData{}, false, err
	}
	if wt.Symbol == "" || wt.Price == "" {
		return domain.MarketData{}, false, nil // subscription ack or heartbeat
	}
	price, err := domain.ParseMoney(wt.Price)
	if err != nil {
		return domain.MarketData{}, false, err
	}
	qty, err := domain.ParseMoney(wt.Qty)
	if err != nil {
		return domain.MarketData{}, false, err
	}
	sym := domain.NewSymbol(baseFromWire(wt.Symbol), quoteFromWire(wt.Symbol), domain.MarketCrypto)
	ts := time.UnixMilli(wt.Ts).UTC()
	md := domain.NewTrade(sym, price, qty, ts)
	md.RecvTS = time.Now().UTC()
	return md, true, nil
}

// baseFromWire/quoteFromWire split a concatenated pair symbol like "BTCUSDT"
// using the common quote-asset suffixes the venue trades against.
func baseFromWire(pair string) string {
	base, _ := splitPair(pair)
	return base
}

func quoteFromWire(pair string) string {
	_, quote := splitPair(pair)
	return quote
}

var knownQuotes = []string{"USDT", "USDC", "BUSD", "BTC", "ETH", "USD"}

func splitPair(pair string) (base, quote string) {
	for _, q := range knownQuotes {
		if len(pair) > len(q) && pair[len(pair)-len(q):] == q {
			return pair[:len(pair)-len(q)], q
		}
	}
	return pair, ""
}

func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
