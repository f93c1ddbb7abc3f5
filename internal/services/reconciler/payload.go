package reconciler

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Al7ech/binance-trade-notipi/internal/domain"
)

const (
	positionPlaces = 3
	balancePlaces  = 2

	// PercentUndefined is shown instead of the balance change percentage when the previous balance is zero.
	PercentUndefined = "n/a"

	titleText = "Binance trade detection"
)

var hundred = decimal.NewFromInt(100)

// FormatPayload builds the notification describing the change from prev to cur caused by a fill at price.
func FormatPayload(asset, symbol string, prev, cur domain.AccountState, price decimal.Decimal) domain.NotificationPayload {
	direction := domain.DirectionBetween(prev, cur)

	marker, arrow := "🟢", "▲"
	if direction == domain.DirectionDecrease {
		marker, arrow = "🔴", "▼"
	}

	positionLine := fmt.Sprintf("%s: %s (%s) @ %s",
		baseAsset(symbol, asset),
		cur.Position.StringFixed(positionPlaces),
		signed(cur.Position.Sub(prev.Position), positionPlaces),
		price.StringFixed(balancePlaces))

	balanceLine := fmt.Sprintf("%s: %s (%s %s, %s)",
		asset,
		cur.Balance.StringFixed(balancePlaces),
		arrow,
		cur.Balance.Sub(prev.Balance).Abs().StringFixed(balancePlaces),
		PercentChange(prev.Balance, cur.Balance))

	return domain.NotificationPayload{
		Title:   marker + " " + titleText,
		Content: positionLine + "\n" + balanceLine,
	}
}

// PercentChange formats |cur/prev - 1| as a percentage with two decimals,
// or PercentUndefined when prev is zero.
func PercentChange(prev, cur decimal.Decimal) string {
	if prev.IsZero() {
		return PercentUndefined
	}
	pct := cur.Div(prev).Sub(decimal.NewFromInt(1)).Abs().Mul(hundred)
	return pct.StringFixed(balancePlaces) + "%"
}

// signed formats d with an explicit sign, zero is shown as positive.
func signed(d decimal.Decimal, places int32) string {
	rounded := d.Round(places)
	if rounded.IsNegative() {
		return rounded.StringFixed(places)
	}
	return "+" + rounded.StringFixed(places)
}

// baseAsset returns the symbol without the quote asset suffix, e.g. BTC for BTCUSDT.
// Symbols not quoted in asset fall back to their first three characters.
func baseAsset(symbol, asset string) string {
	if base, ok := strings.CutSuffix(symbol, asset); ok && base != "" {
		return base
	}
	if len(symbol) > 3 {
		return symbol[:3]
	}
	return symbol
}
