package enums

import "slices"

// PricingBasis records where an assignment's agreed price came from.
type PricingBasis string

const (
	// PricingBasisFixed means the order's base price was accepted as is.
	PricingBasisFixed PricingBasis = "fixed"
	// PricingBasisDerived means the actor offered its own price.
	PricingBasisDerived PricingBasis = "derived"
)

var validPricingBases = []PricingBasis{PricingBasisFixed, PricingBasisDerived}

func (p PricingBasis) IsValid() bool { return slices.Contains(validPricingBases, p) }

func ParsePricingBasis(value string) (PricingBasis, error) {
	return parseOneOf(validPricingBases, "pricing basis", value)
}
