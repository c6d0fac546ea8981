package model

import "github.com/shopspring/decimal"

// CostBreakdown is the itemized result of a pricing request. It is
// derived fresh on every call and never cached; it travels embedded in
// API responses and transaction descriptions only.
type CostBreakdown struct {
	Images   int `json:"images"`
	Videos   int `json:"videos"`
	Frames   int `json:"frames"`
	ZipPairs int `json:"zip_pairs,omitempty"`

	ImageCost decimal.Decimal `json:"image_cost"`
	FrameCost decimal.Decimal `json:"frame_cost"`
	Total     decimal.Decimal `json:"total"`
}

func (c CostBreakdown) IsFree() bool { return c.Total.IsZero() }
