// Package classifier decodes futures user data stream messages and extracts the
// parts relevant to the watched asset and symbol.
package classifier

import (
	"encoding/json"
	"fmt"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/Al7ech/binance-trade-notipi/internal/domain"
)

// eventListenKeyExpired is sent once the listen key of the stream is no longer valid.
const eventListenKeyExpired = "listenKeyExpired"

// Kind of a classified message.
type Kind int

const (
	// KindUnrecognized messages are ignored.
	KindUnrecognized Kind = iota
	// KindAccountUpdate balance/position update.
	KindAccountUpdate
	// KindOrderUpdate order/trade update.
	KindOrderUpdate
	// KindStreamExpired the stream will not deliver further events.
	KindStreamExpired
)

func (k Kind) String() string {
	switch k {
	case KindAccountUpdate:
		return "account_update"
	case KindOrderUpdate:
		return "order_update"
	case KindStreamExpired:
		return "stream_expired"
	default:
		return "unrecognized"
	}
}

// Event classified message.
type Event struct {
	Kind Kind
	// Type raw event type from the `e` field.
	Type    string
	Account domain.AccountUpdate
	Order   domain.OrderUpdate
}

// Error is returned for messages that cannot be decoded or lack expected fields.
// The message is skipped; the stream itself stays usable.
type Error struct {
	EventType string
	Field     string
	Err       error
}

func (e *Error) Error() string {
	event := e.EventType
	if event == "" {
		event = "unknown event"
	}
	if e.Field == "" {
		return fmt.Sprintf("classify %s: %v", event, e.Err)
	}
	return fmt.Sprintf("classify %s: field %s: %v", event, e.Field, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrMissingField reports an expected field absent from the message.
var ErrMissingField = errors.New("missing field")

// Binance reuses keys that differ only in case ("e"/"E", "x"/"X", "ap"/"AP") and
// encoding/json falls back to case-insensitive matching, so every such twin is declared.
// E is sent as a number or, for listenKeyExpired, as a string.
type wireEvent struct {
	Type      string          `json:"e"`
	EventTime json.RawMessage `json:"E"`
	Account   *wireAccount `json:"a"`
	Order     *wireOrder   `json:"o"`
}

type wireAccount struct {
	Reason    string         `json:"m"`
	Balances  []wireBalance  `json:"B"`
	Positions []wirePosition `json:"P"`
}

type wireBalance struct {
	Asset         string `json:"a"`
	WalletBalance string `json:"wb"`
}

type wirePosition struct {
	Symbol string `json:"s"`
	Amount string `json:"pa"`
}

type wireOrder struct {
	Symbol        string `json:"s"`
	ClientOrderID string `json:"c"`
	Side          string `json:"S"`
	ExecutionType string `json:"x"`
	Status        string `json:"X"`
	OrderID       int64  `json:"i"`
	AveragePrice  string `json:"ap"`
	ActivationPx  string `json:"AP"`
}

// Classifier classifies user data stream messages for one asset and symbol.
type Classifier struct {
	asset  string
	symbol string
}

// New creates a Classifier matching balances by asset and positions by symbol.
func New(asset, symbol string) *Classifier {
	return &Classifier{asset: asset, symbol: symbol}
}

// Classify decodes one raw message and determines its kind.
func (c *Classifier) Classify(raw []byte) (Event, error) {
	var msg wireEvent
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Event{}, &Error{Err: err}
	}
	if msg.Type == "" {
		return Event{}, &Error{Field: "e", Err: ErrMissingField}
	}

	switch msg.Type {
	case string(futures.UserDataEventTypeAccountUpdate):
		return c.accountUpdate(msg)
	case string(futures.UserDataEventTypeOrderTradeUpdate):
		return c.orderUpdate(msg)
	case eventListenKeyExpired:
		return Event{Kind: KindStreamExpired, Type: msg.Type}, nil
	default:
		return Event{Kind: KindUnrecognized, Type: msg.Type}, nil
	}
}

func (c *Classifier) accountUpdate(msg wireEvent) (Event, error) {
	if msg.Account == nil {
		return Event{}, &Error{EventType: msg.Type, Field: "a", Err: ErrMissingField}
	}

	update := domain.AccountUpdate{Reason: msg.Account.Reason}

	for _, b := range msg.Account.Balances {
		if b.Asset != c.asset {
			continue
		}
		balance, err := parseAmount(b.WalletBalance)
		if err != nil {
			return Event{}, &Error{EventType: msg.Type, Field: "a.B.wb", Err: err}
		}
		update.Balance = &domain.AssetBalanceUpdate{Asset: b.Asset, WalletBalance: balance}
		break
	}

	for _, p := range msg.Account.Positions {
		if p.Symbol != c.symbol {
			continue
		}
		amount, err := parseAmount(p.Amount)
		if err != nil {
			return Event{}, &Error{EventType: msg.Type, Field: "a.P.pa", Err: err}
		}
		update.Position = &domain.PositionUpdate{Symbol: p.Symbol, PositionAmount: amount}
		break
	}

	return Event{Kind: KindAccountUpdate, Type: msg.Type, Account: update}, nil
}

func (c *Classifier) orderUpdate(msg wireEvent) (Event, error) {
	o := msg.Order
	if o == nil {
		return Event{}, &Error{EventType: msg.Type, Field: "o", Err: ErrMissingField}
	}
	if o.Symbol == "" {
		return Event{}, &Error{EventType: msg.Type, Field: "o.s", Err: ErrMissingField}
	}
	if o.Status == "" {
		return Event{}, &Error{EventType: msg.Type, Field: "o.X", Err: ErrMissingField}
	}

	price := decimal.Zero
	if o.AveragePrice != "" {
		p, err := decimal.NewFromString(o.AveragePrice)
		if err != nil {
			return Event{}, &Error{EventType: msg.Type, Field: "o.ap", Err: err}
		}
		price = p
	}

	return Event{
		Kind: KindOrderUpdate,
		Type: msg.Type,
		Order: domain.OrderUpdate{
			Symbol:        o.Symbol,
			Status:        domain.OrderStatus(o.Status),
			AveragePrice:  price,
			Side:          o.Side,
			OrderID:       o.OrderID,
			ClientOrderID: o.ClientOrderID,
		},
	}, nil
}

// parseAmount treats an absent amount as zero.
func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
