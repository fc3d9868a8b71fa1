// Package pricing implements the passenger discount policy. It is a pure
// function of the base price and the passenger category.
package pricing

type Category string

const (
	CategoryRegular Category = "regular"
	CategoryStudent Category = "student"
	CategoryRetiree Category = "retiree"
)

// ParseCategory normalises a raw category string, defaulting to regular.
func ParseCategory(v string) Category {
	switch Category(v) {
	case CategoryStudent:
		return CategoryStudent
	case CategoryRetiree:
		return CategoryRetiree
	default:
		return CategoryRegular
	}
}
