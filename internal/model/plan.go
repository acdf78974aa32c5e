package model

// Plan maps a gateway charge value to a credit grant. The product sells a
// fixed small set of plans against a single gateway, so the catalog is
// static.
type Plan struct {
	Type         string
	Value        float64
	Credits      int64
	Subscription bool
}

var planCatalog = []Plan{
	{Type: "single", Value: 9.90, Credits: 1},
	{Type: "pack_5", Value: 39.90, Credits: 5},
	{Type: "pack_20", Value: 119.90, Credits: 20},
	{Type: "monthly", Value: 29.90, Credits: 10, Subscription: true},
	{Type: "monthly_pro", Value: 79.90, Credits: 50, Subscription: true},
}

// PlanForValue resolves the plan matching a charge value, tolerating
// sub-cent rounding noise from the gateway. Returns false for unknown
// values so the caller can flag the event instead of guessing a grant.
func PlanForValue(value float64) (Plan, bool) {
	for _, p := range planCatalog {
		d := p.Value - value
		if d < 0.005 && d > -0.005 {
			return p, true
		}
	}
	return Plan{}, false
}

// PlanByType resolves a plan by its type name.
func PlanByType(planType string) (Plan, bool) {
	for _, p := range planCatalog {
		if p.Type == planType {
			return p, true
		}
	}
	return Plan{}, false
}
