package rest

import (
	ydecimal "github.com/yanun0323/decimal"
)

type Response[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
	Data    T      `json:"data"`
}

type requestPlaceOrder struct {
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Quantity      string `json:"quantity"`
	ReduceOnly    bool   `json:"reduceOnly"`
	Timestamp     int64  `json:"timestamp"`
}

type ResponseOrder struct {
	ID            string           `json:"id"`
	ClientOrderID string           `json:"clientOrderId"`
	Symbol        string           `json:"symbol"`
	Side          string           `json:"side"`
	Status        string           `json:"status"`
	Quantity      ydecimal.Decimal `json:"quantity"`
	Filled        ydecimal.Decimal `json:"filled"`
	AvgPrice      ydecimal.Decimal `json:"avgPrice"`
	Fee           ydecimal.Decimal `json:"fee"`
	UpdatedAt     int64            `json:"updatedAt"`
}

type ResponseBalance struct {
	Asset     string           `json:"asset"`
	Total     ydecimal.Decimal `json:"total"`
	Available ydecimal.Decimal `json:"available"`
}

type ResponsePosition struct {
	Symbol           string           `json:"symbol"`
	Side             string           `json:"side"`
	Size             ydecimal.Decimal `json:"size"`
	EntryPrice       ydecimal.Decimal `json:"entryPrice"`
	Leverage         ydecimal.Decimal `json:"leverage"`
	LiquidationPrice ydecimal.Decimal `json:"liquidationPrice"`
}
