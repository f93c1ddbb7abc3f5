package domain

import "github.com/shopspring/decimal"

// AssetBalanceUpdate wallet balance reported for one asset in an account update.
type AssetBalanceUpdate struct {
	Asset         string
	WalletBalance decimal.Decimal
}

// PositionUpdate position amount reported for one symbol in an account update.
type PositionUpdate struct {
	Symbol         string
	PositionAmount decimal.Decimal
}

// AccountUpdate is the part of a balance/position event relevant to the watched asset and symbol.
// A nil field means the event carried no entry for it.
type AccountUpdate struct {
	Reason   string
	Balance  *AssetBalanceUpdate
	Position *PositionUpdate
}

// OrderStatus exchange order status.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
	OrderStatusExpiredInMatch  OrderStatus = "EXPIRED_IN_MATCH"
)

// OrderUpdate order/trade event. Only a FILLED update for the watched symbol is actionable.
type OrderUpdate struct {
	Symbol        string
	Status        OrderStatus
	AveragePrice  decimal.Decimal
	Side          string
	OrderID       int64
	ClientOrderID string
}

// IsFillOf reports whether the update is a complete fill of an order for symbol.
func (u OrderUpdate) IsFillOf(symbol string) bool {
	return u.Status == OrderStatusFilled && u.Symbol == symbol
}
