package models

import "github.com/shopspring/decimal"

type ServiceCategory string

const (
	CategoryWashFold ServiceCategory = "Wash & Fold"
	CategoryWashIron ServiceCategory = "Wash & Iron"
	CategoryDryClean ServiceCategory = "Dry Clean"
	CategoryIronOnly ServiceCategory = "Iron Only"
)

var ServiceCategories = []ServiceCategory{
	CategoryWashFold,
	CategoryWashIron,
	CategoryDryClean,
	CategoryIronOnly,
}

func (c ServiceCategory) Valid() bool {
	for _, known := range ServiceCategories {
		if c == known {
			return true
		}
	}
	return false
}

type Unit string

const (
	UnitKilogram Unit = "kg"
	UnitPiece    Unit = "pc"
)

func (u Unit) Valid() bool {
	return u == UnitKilogram || u == UnitPiece
}

// PricingItem is a purchasable service. Items are built at startup and never mutated.
type PricingItem struct {
	ID       string          `json:"id" yaml:"id"`
	Name     string          `json:"name" yaml:"name"`
	Category ServiceCategory `json:"category" yaml:"category"`
	Price    decimal.Decimal `json:"price" yaml:"-"`
	Unit     Unit            `json:"unit" yaml:"unit"`
}
