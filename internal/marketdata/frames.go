package marketdata

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/qtmspin/alpaca-api-service-sub001/internal/domain"
)

// Frame kinds on the market-data stream, keyed by the short "T" tag.
const (
	frameTrade        = "t"
	frameQuote        = "q"
	frameBar          = "b"
	frameUpdatedBar   = "u"
	frameDailyBar     = "d"
	frameStatus       = "s"
	frameLULD         = "l"
	frameCancelError  = "x"
	frameCorrection   = "c"
	frameSubscription = "subscription"
	frameSuccess      = "success"
	frameError        = "error"
)

// rawFrame is the superset of fields across all inbound frame kinds.
type rawFrame struct {
	Type   string `json:"T"`
	Symbol string `json:"S"`

	// success / error
	Msg  string `json:"msg"`
	Code int    `json:"code"`

	// trade
	Price json.Number `json:"p"`
	Size  json.Number `json:"s"`

	// quote
	BidPrice json.Number `json:"bp"`
	BidSize  json.Number `json:"bs"`
	AskPrice json.Number `json:"ap"`
	AskSize  json.Number `json:"as"`

	// subscription ack
	Trades []string `json:"trades"`
	Quotes []string `json:"quotes"`

	Timestamp string `json:"t"`
}

// decodeFrames parses one wire message. The stream batches frames into
// JSON arrays; a bare object is tolerated for forward compatibility.
func decodeFrames(message []byte) ([]rawFrame, error) {
	var frames []rawFrame
	if err := json.Unmarshal(message, &frames); err == nil {
		return frames, nil
	}
	var single rawFrame
	if err := json.Unmarshal(message, &single); err != nil {
		return nil, err
	}
	return []rawFrame{single}, nil
}

// tradeTick converts a trade frame into the normalized tick.
func tradeTick(f rawFrame) (domain.Tick, bool) {
	price, err := decimal.NewFromString(f.Price.String())
	if err != nil {
		return domain.Tick{}, false
	}
	tick := domain.Tick{
		Symbol:    f.Symbol,
		Price:     price,
		Timestamp: parseStreamTime(f.Timestamp),
		Source:    domain.TickFromTrade,
	}
	if size, err := decimal.NewFromString(f.Size.String()); err == nil && size.IsPositive() {
		tick.Volume = &size
	}
	return tick, true
}

// quoteTick converts a quote frame into a midpoint-priced tick.
func quoteTick(f rawFrame) (domain.Tick, bool) {
	bid, bidErr := decimal.NewFromString(f.BidPrice.String())
	ask, askErr := decimal.NewFromString(f.AskPrice.String())
	if bidErr != nil || askErr != nil {
		return domain.Tick{}, false
	}
	price := domain.QuoteMidpoint(bid, ask)
	if !price.IsPositive() {
		return domain.Tick{}, false
	}

	tick := domain.Tick{
		Symbol:    f.Symbol,
		Price:     price,
		Timestamp: parseStreamTime(f.Timestamp),
		Source:    domain.TickFromQuote,
	}
	if bid.IsPositive() {
		tick.BidPrice = &bid
	}
	if ask.IsPositive() {
		tick.AskPrice = &ask
	}
	if bs, err := decimal.NewFromString(f.BidSize.String()); err == nil && bs.IsPositive() {
		tick.BidSize = &bs
	}
	if as, err := decimal.NewFromString(f.AskSize.String()); err == nil && as.IsPositive() {
		tick.AskSize = &as
	}
	return tick, true
}

func parseStreamTime(raw string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Now().UTC()
	}
	return ts
}
