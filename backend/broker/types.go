// Package broker implements the HTTP/WS client bound to the external
// brokerage contract (§6): wire-level request/response shapes, including the
// Kite-specific string-quoted numerics and null timestamps, isolated here so
// nothing upstream of this package ever sees them (§9).
package broker

// Wire-level order push/response payloads use strings for numeric fields
// and possibly-null timestamps, mirroring the broker's actual JSON contract.

type orderResponse struct {
	OrderID string `json:"order_id"`
}

type orderWire struct {
	OrderID           string  `json:"order_id"`
	Status            string  `json:"status"`
	StatusMessage     string  `json:"status_message"`
	TradingSymbol     string  `json:"tradingsymbol"`
	Exchange          string  `json:"exchange"`
	TransactionType   string  `json:"transaction_type"`
	OrderType         string  `json:"order_type"`
	Product           string  `json:"product"`
	Quantity          string  `json:"quantity"`
	Price             string  `json:"price"`
	TriggerPrice      string  `json:"trigger_price"`
	FilledQuantity    string  `json:"filled_quantity"`
	AveragePrice      string  `json:"average_price"`
	OrderTimestamp    *string `json:"order_timestamp"`
	ExchangeTimestamp *string `json:"exchange_timestamp"`
}

type positionWire struct {
	TradingSymbol     string `json:"tradingsymbol"`
	InstrumentToken   uint64 `json:"instrument_token"`
	Quantity          string `json:"quantity"`
	AveragePrice      string `json:"average_price"`
	PnL               string `json:"pnl"`
	Unrealised        string `json:"unrealised"`
	LastPrice         string `json:"last_price"`
}

type positionsWire struct {
	Day []positionWire `json:"day"`
	Net []positionWire `json:"net"`
}

type orderUpdateWire struct {
	OrderID        string  `json:"order_id"`
	Status         string  `json:"status"`
	FilledQuantity string  `json:"filled_quantity"`
	AveragePrice   string  `json:"average_price"`
	Timestamp      *string `json:"exchange_timestamp"`
	StatusMessage  string  `json:"status_message,omitempty"`
}

type marginWire struct {
	Net string `json:"net"`
}

type marginsWire struct {
	Equity marginWire `json:"equity"`
	Commodity marginWire `json:"commodity"`
}
