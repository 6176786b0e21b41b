package tradernet

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/aristath/sentinel/internal/adapter"
	"github.com/aristath/sentinel/internal/domain"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	dialTimeout          = 30 * time.Second
	writeWait            = 10 * time.Second
	baseReconnectDelay   = 5 * time.Second
	maxReconnectDelay    = 5 * time.Minute
	maxReconnectAttempts = 10
)

// tickStream owns one websocket connection and fans out decoded ticks on a
// single channel. Only this goroutine ever touches conn; Subscribe callers
// never write to it directly, matching the single-reader-task ownership
// model required by spec §5.
type tickStream struct {
	url     string
	symbols []domain.Symbol
	log     zerolog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	stopped bool
	stopCh  chan struct{}

	out chan adapter.StreamEvent
}

func newTickStream(url string, symbols []domain.Symbol, log zerolog.Logger) *tickStream {
	return &tickStream{
		url:     url,
		symbols: symbols,
		log:     log.With().Str("component", "tradernet_tick_stream").Logger(),
		stopCh:  make(chan struct{}),
		out:     make(chan adapter.StreamEvent, 1024),
	}
}

// run dials, subscribes, reads until the connection drops, then reconnects
// with exponential backoff. On every reconnect after the first dial it
// emits a Resynced marker before resuming data, per spec §4.2's gap
// contract.
func (s *tickStream) run(ctx context.Context) {
	defer close(s.out)
	attempt := 0
	firstConnect := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		if err := s.connectAndRead(ctx, !firstConnect); err != nil {
			s.log.Warn().Err(err).Int("attempt", attempt).Msg("tick stream disconnected")
			select {
			case s.out <- adapter.StreamEvent{Kind: adapter.StreamEventError, Err: err}:
			default:
			}
		}
		firstConnect = false

		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		attempt++
		delay := backoffDelay(attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		}
	}
}

func backoffDelay(attempt int) time.Duration {
	if attempt > maxReconnectAttempts {
		attempt = maxReconnectAttempts
	}
	d := time.Duration(float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1)))
	if d > maxReconnectDelay {
		d = maxReconnectDelay
	}
	return d
}

func (s *tickStream) connectAndRead(ctx context.Context, emitResync bool) error {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, s.url, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	if err := s.subscribe(ctx, conn); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	if emitResync {
		select {
		case s.out <- adapter.StreamEvent{Kind: adapter.StreamEventResynced}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		md, ok, err := decodeTick(data)
		if err != nil {
			s.log.Warn().Err(err).Msg("failed to decode tick message")
			continue
		}
		if !ok {
			continue // heartbeat/control message, not a tick
		}
		select {
		case s.out <- adapter.StreamEvent{Kind: adapter.StreamEventData, Data: md}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *tickStream) subscribe(ctx context.Context, conn *websocket.Conn) error {
	codes := make([]string, 0, len(s.symbols))
	for _, sym := range s.symbols {
		codes = append(codes, sym.Base)
	}
	msg, err := json.Marshal(codes)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, msg)
}

func (s *tickStream) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.stopCh)
	if s.conn != nil {
		s.conn.Close(websocket.StatusNormalClosure, "client stop")
	}
}

// wireTick is the venue's wire shape for one tick message.
type wireTick struct {
	Symbol string  `json:"c"`
	Price  float64 `json:"ltp"`
	Size   float64 `json:"vol"`
	Ts     int64   `json:"ts"`
}

func decodeTick(data []byte) (domain.MarketData, bool, error) {
	var wt wireTick
	if err := json.Unmarshal(data, &wt); err != nil {
		return domain.MarketData{}, false, err
	}
	if wt.Symbol == "" {
		return domain.MarketData{}, false, nil
	}
	sym := domain.NewSymbol(wt.Symbol, "", domain.MarketUS)
	price, err := domain.ParseMoney(trimFloat(wt.Price))
	if err != nil {
		return domain.MarketData{}, false, err
	}
	size, err := domain.ParseMoney(trimFloat(wt.Size))
	if err != nil {
		return domain.MarketData{}, false, err
	}
	ts := time.Unix(wt.Ts, 0).UTC()
	md := domain.NewTrade(sym, price, size, ts)
	md.RecvTS = time.Now().UTC()
	return md, true, nil
}

func trimFloat(f float64) string {
	return fmt.Sprintf("%g", f)
}
