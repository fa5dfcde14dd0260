package domain

import (
	"math"

	"github.com/shopspring/decimal"
)

const (
	moneyPlaces = 2
	priceScale  = 4
)

// MaxQuantity bounds every line quantity and stock delta.
const MaxQuantity = math.MaxInt32

// LineTotal is quantity * unitPrice rounded half away from zero to cents.
func LineTotal(quantity int, unitPrice decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity))).Round(moneyPlaces)
}

func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(moneyPlaces)
}

// FitsPriceScale reports whether d needs no more than four
// decimal places.
func FitsPriceScale(d decimal.Decimal) bool {
	return d.Equal(d.Round(priceScale))
}
