// Package snapshot loads the authoritative starting state of the watched account.
package snapshot

import (
	"context"
	"fmt"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Al7ech/binance-trade-notipi/internal/domain"
)

type accountFetcher interface {
	AccountSummary(ctx context.Context) (*futures.Account, error)
}

// Error is returned when the snapshot cannot be obtained. Nothing is applied in that case.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("snapshot %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Loader reads wallet balance and position size of the configured asset and symbol.
type Loader struct {
	logger *zap.Logger
	asset  string
	symbol string
}

// NewLoader creates a Loader for the given asset and symbol.
func NewLoader(logger *zap.Logger, asset, symbol string) *Loader {
	return &Loader{logger: logger, asset: asset, symbol: symbol}
}

// Load fetches the account summary and picks the first asset record and the first
// position record matching the configured identifiers. An identifier without a
// matching record yields zero for its field.
func (l *Loader) Load(ctx context.Context, fetcher accountFetcher) (domain.AccountState, error) {
	account, err := fetcher.AccountSummary(ctx)
	if err != nil {
		return domain.AccountState{}, &Error{Op: "fetch", Err: errors.Wrap(err, "failed to get futures account")}
	}
	if account == nil {
		return domain.AccountState{}, &Error{Op: "fetch", Err: errors.New("empty futures account response")}
	}

	state := domain.AccountState{Balance: decimal.Zero, Position: decimal.Zero}

	balanceFound := false
	for _, asset := range account.Assets {
		if asset == nil || asset.Asset != l.asset {
			continue
		}
		balance, err := parseAmount(asset.WalletBalance)
		if err != nil {
			return domain.AccountState{}, &Error{Op: "parse", Err: errors.Wrapf(err, "failed to parse wallet balance of %s", l.asset)}
		}
		state.Balance = balance
		balanceFound = true
		break
	}

	positionFound := false
	for _, position := range account.Positions {
		if position == nil || position.Symbol != l.symbol {
			continue
		}
		amount, err := parseAmount(position.PositionAmt)
		if err != nil {
			return domain.AccountState{}, &Error{Op: "parse", Err: errors.Wrapf(err, "failed to parse position amount of %s", l.symbol)}
		}
		state.Position = amount
		positionFound = true
		break
	}

	if !balanceFound {
		l.logger.Warn("no wallet balance record for asset, assuming zero", zap.String("asset", l.asset))
	}
	if !positionFound {
		l.logger.Warn("no position record for symbol, assuming zero", zap.String("symbol", l.symbol))
	}

	return state, nil
}

// parseAmount treats an absent field as zero.
func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
