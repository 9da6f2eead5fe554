package binance

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order sides and types on the futures REST surface.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	OrderMarket     = "MARKET"
	OrderStopMarket = "STOP_MARKET"
	OrderTakeProfit = "TAKE_PROFIT_MARKET"
)

// Position sides.
const (
	PositionLong  = "LONG"
	PositionShort = "SHORT"
)

// SymbolInfo caches the per-symbol precision filters from exchangeInfo.
type SymbolInfo struct {
	QtyPrecision   int
	MinQty         decimal.Decimal
	StepSize       decimal.Decimal
	PricePrecision int
	TickSize       decimal.Decimal
}

// Position is an open futures position.
type Position struct {
	Symbol        string
	Side          string
	EntryPrice    decimal.Decimal
	Quantity      decimal.Decimal
	UnrealizedPnL decimal.Decimal
	Leverage      int
	Timestamp     time.Time
}

// AccountInfo is the subset of the account endpoint the platform uses.
type AccountInfo struct {
	TotalWalletBalance decimal.Decimal
	AvailableBalance   decimal.Decimal
	Positions          []Position
}

// OrderResult reports a placed order after execution-price resolution.
// StopLossPlaced/TakeProfitPlaced record whether the protective orders made
// it onto the exchange; when false the execution manager enforces the level
// manually.
type OrderResult struct {
	OrderID          string
	Symbol           string
	Side             string
	Quantity         decimal.Decimal
	Price            decimal.Decimal
	StopLossPlaced   bool
	TakeProfitPlaced bool
}

// Fill is one partial execution of an order.
type Fill struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// OrderAck is the acknowledged state of a placed or queried order, the input
// to the execution-price ladder.
type OrderAck struct {
	OrderID  string
	AvgPrice decimal.Decimal
	Fills    []Fill
}

// OpenOrder is one resting order as returned by the open-orders endpoint.
type OpenOrder struct {
	OrderID   int64           `json:"orderId"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Type      string          `json:"type"`
	StopPrice decimal.Decimal `json:"stopPrice"`
	Status    string          `json:"status"`
}

// orderResponse is the raw create/query order payload.
type orderResponse struct {
	OrderID     int64           `json:"orderId"`
	Symbol      string          `json:"symbol"`
	Status      string          `json:"status"`
	AvgPrice    decimal.Decimal `json:"avgPrice"`
	ExecutedQty decimal.Decimal `json:"executedQty"`
	Fills       []struct {
		Price decimal.Decimal `json:"price"`
		Qty   decimal.Decimal `json:"qty"`
	} `json:"fills"`
}

// accountResponse is the raw account payload.
type accountResponse struct {
	TotalWalletBalance decimal.Decimal `json:"totalWalletBalance"`
	AvailableBalance   decimal.Decimal `json:"availableBalance"`
	Positions          []struct {
		Symbol           string          `json:"symbol"`
		PositionAmt      decimal.Decimal `json:"positionAmt"`
		EntryPrice       decimal.Decimal `json:"entryPrice"`
		UnrealizedProfit decimal.Decimal `json:"unRealizedProfit"`
		Leverage         decimal.Decimal `json:"leverage"`
	} `json:"positions"`
}

// tickerResponse is the raw ticker-price payload.
type tickerResponse struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

// exchangeInfoResponse carries the symbol filters.
type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Filters []struct {
			FilterType string `json:"filterType"`
			MinQty     string `json:"minQty"`
			StepSize   string `json:"stepSize"`
			TickSize   string `json:"tickSize"`
		} `json:"filters"`
	} `json:"symbols"`
}

// apiError is the exchange's error envelope on non-2xx responses.
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}
