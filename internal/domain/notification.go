package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// NotificationPayload message delivered to the notification endpoint.
type NotificationPayload struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Fill describes one dispatched fill notification together with the states it was computed from.
type Fill struct {
	Time         time.Time           `json:"ts"`
	Symbol       string              `json:"symbol"`
	AveragePrice decimal.Decimal     `json:"average_price"`
	Previous     AccountState        `json:"previous"`
	Current      AccountState        `json:"current"`
	Payload      NotificationPayload `json:"payload"`
}
