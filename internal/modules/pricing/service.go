package pricing

// Students and retirees ride at 20% off. Rounding is floor, in the
// passenger's favour never above the base price.
const discountPct = 0.20

type Service struct{}

func NewService() *Service {
	return &Service{}
}

// FinalPrice returns the price charged for one seat given the trip's base
// price in cents and the passenger category.
func (s *Service) FinalPrice(basePriceCents int64, category Category) int64 {
	switch category {
	case CategoryStudent, CategoryRetiree:
		discount := int64(float64(basePriceCents) * discountPct)
		return basePriceCents - discount
	default:
		return basePriceCents
	}
}
