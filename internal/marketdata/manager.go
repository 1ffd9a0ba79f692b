// Package marketdata sits above the price-feed connection: it owns the
// reference-counted subscription set, decodes inbound frames into
// normalized ticks, caches the latest tick per symbol, and republishes
// ticks on its topics.
package marketdata

import (
	"log/slog"
	"sync"

	"github.com/qtmspin/alpaca-api-service-sub001/internal/domain"
	"github.com/qtmspin/alpaca-api-service-sub001/internal/event"
	"github.com/qtmspin/alpaca-api-service-sub001/internal/feed"
	"github.com/qtmspin/alpaca-api-service-sub001/internal/metrics"
)

// Channel is a market-data subscription channel.
type Channel string

const (
	ChannelTrades Channel = "trades"
	ChannelQuotes Channel = "quotes"
)

// Wire is the slice of the feed connection the manager needs.
type Wire interface {
	Send(payload any) error
	Frames() *event.Topic[[]byte]
	States() *event.Topic[feed.StateChange]
	Authenticated()
	AuthFailed(reason string)
}

// subscribeFrame is the outbound (un)subscribe message.
type subscribeFrame struct {
	Action string   `json:"action"`
	Trades []string `json:"trades,omitempty"`
	Quotes []string `json:"quotes,omitempty"`
}

// Manager tracks which symbols are subscribed on the wire. A symbol is
// subscribed iff at least one consumer references it; requests arriving
// before authentication are queued and flushed on the auth ack, and every
// referenced symbol is re-subscribed after a reconnect.
type Manager struct {
	wire Wire

	mu       sync.Mutex
	refs     map[string]int
	channels map[string][]Channel
	cache    map[string]domain.Tick
	authed   bool

	ticks       event.Topic[domain.Tick]
	symbolTicks event.KeyedTopic[domain.Tick]
}

// New wires a manager to its feed connection.
func New(wire Wire) *Manager {
	m := &Manager{
		wire:     wire,
		refs:     make(map[string]int),
		channels: make(map[string][]Channel),
		cache:    make(map[string]domain.Tick),
	}
	wire.Frames().Subscribe(m.handleFrame)
	wire.States().Subscribe(m.handleState)
	return m
}

// Ticks publishes every decoded tick.
func (m *Manager) Ticks() *event.Topic[domain.Tick] { return &m.ticks }

// SymbolTicks publishes decoded ticks under their symbol.
func (m *Manager) SymbolTicks() *event.KeyedTopic[domain.Tick] { return &m.symbolTicks }

// Subscribe adds one reference to symbol on the default channels
// (trades and quotes).
func (m *Manager) Subscribe(symbol string) {
	m.SubscribeChannels(symbol, ChannelTrades, ChannelQuotes)
}

// SubscribeChannels adds one reference to symbol. The first reference
// sends the subscribe frame (or queues it until the feed authenticates);
// further references only bump the count.
func (m *Manager) SubscribeChannels(symbol string, channels ...Channel) {
	if len(channels) == 0 {
		channels = []Channel{ChannelTrades, ChannelQuotes}
	}
	symbol = domain.NormalizeSymbol(symbol)

	m.mu.Lock()
	m.refs[symbol]++
	m.channels[symbol] = channels
	first := m.refs[symbol] == 1
	authed := m.authed
	m.mu.Unlock()

	if first && authed {
		m.sendSubscribe("subscribe", map[string][]Channel{symbol: channels})
	}
}

// Unsubscribe drops one reference. At zero the unsubscribe frame is sent
// and the cached tick is discarded.
func (m *Manager) Unsubscribe(symbol string) {
	symbol = domain.NormalizeSymbol(symbol)

	m.mu.Lock()
	if m.refs[symbol] == 0 {
		m.mu.Unlock()
		return
	}
	m.refs[symbol]--
	last := m.refs[symbol] == 0
	channels := m.channels[symbol]
	if last {
		delete(m.refs, symbol)
		delete(m.channels, symbol)
		delete(m.cache, symbol)
	}
	authed := m.authed
	m.mu.Unlock()

	if last && authed {
		m.sendSubscribe("unsubscribe", map[string][]Channel{symbol: channels})
	}
}

// LastTick returns the cached tick for symbol, if any.
func (m *Manager) LastTick(symbol string) (domain.Tick, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tick, ok := m.cache[domain.NormalizeSymbol(symbol)]
	return tick, ok
}

// Subscribed returns the symbols with a non-zero reference count.
func (m *Manager) Subscribed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	symbols := make([]string, 0, len(m.refs))
	for symbol := range m.refs {
		symbols = append(symbols, symbol)
	}
	return symbols
}

func (m *Manager) handleState(sc feed.StateChange) {
	switch sc.To {
	case feed.StateAuthenticated:
		m.mu.Lock()
		m.authed = true
		wanted := make(map[string][]Channel, len(m.refs))
		for symbol := range m.refs {
			wanted[symbol] = m.channels[symbol]
		}
		m.mu.Unlock()

		// Sole durability mechanism across reconnects: replay every
		// referenced subscription. Queued pre-auth requests flush here too.
		if len(wanted) > 0 {
			m.sendSubscribe("subscribe", wanted)
		}
	case feed.StateDisconnected:
		m.mu.Lock()
		m.authed = false
		m.mu.Unlock()
	}
}

func (m *Manager) sendSubscribe(action string, wanted map[string][]Channel) {
	frame := subscribeFrame{Action: action}
	for symbol, channels := range wanted {
		for _, ch := range channels {
			switch ch {
			case ChannelTrades:
				frame.Trades = append(frame.Trades, symbol)
			case ChannelQuotes:
				frame.Quotes = append(frame.Quotes, symbol)
			}
		}
	}
	if err := m.wire.Send(frame); err != nil {
		slog.Warn("market data subscribe frame failed", "action", action, "err", err)
	}
}

// handleFrame decodes one wire message. Malformed or unknown frames are
// logged and dropped; decoding never takes the process down.
func (m *Manager) handleFrame(message []byte) {
	frames, err := decodeFrames(message)
	if err != nil {
		slog.Warn("market data frame decode failed", "err", err)
		metrics.FramesDropped.WithLabelValues("malformed").Inc()
		return
	}

	for _, f := range frames {
		switch f.Type {
		case frameTrade:
			if tick, ok := tradeTick(f); ok {
				m.publishTick(tick)
			} else {
				metrics.FramesDropped.WithLabelValues("bad_trade").Inc()
			}
		case frameQuote:
			if tick, ok := quoteTick(f); ok {
				m.publishTick(tick)
			} else {
				metrics.FramesDropped.WithLabelValues("bad_quote").Inc()
			}
		case frameSuccess:
			m.handleSuccess(f)
		case frameError:
			m.handleError(f)
		case frameSubscription:
			slog.Debug("subscription ack", "trades", f.Trades, "quotes", f.Quotes)
		case frameBar, frameUpdatedBar, frameDailyBar, frameStatus, frameLULD, frameCancelError, frameCorrection:
			// Tolerated but not tick sources.
		default:
			slog.Warn("unknown market data frame kind", "kind", f.Type)
			metrics.FramesDropped.WithLabelValues("unknown_kind").Inc()
		}
	}
}

func (m *Manager) handleSuccess(f rawFrame) {
	if f.Msg == "authenticated" {
		m.wire.Authenticated()
	}
}

func (m *Manager) handleError(f rawFrame) {
	m.mu.Lock()
	authed := m.authed
	m.mu.Unlock()
	if !authed {
		m.wire.AuthFailed(f.Msg)
		return
	}
	slog.Warn("market data stream error", "code", f.Code, "msg", f.Msg)
}

func (m *Manager) publishTick(tick domain.Tick) {
	m.mu.Lock()
	m.cache[tick.Symbol] = tick
	m.mu.Unlock()

	metrics.TicksTotal.WithLabelValues(tick.Symbol).Inc()
	m.ticks.Publish(tick)
	m.symbolTicks.Publish(tick.Symbol, tick)
}
