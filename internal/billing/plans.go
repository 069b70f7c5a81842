package billing

import "fmt"

// Plan keys.
const (
	PlanFree  = "free"
	PlanBasic = "basic"
	PlanPro   = "pro"
)

// Plan is a pricing tier. PlanID is empty for plans that cannot be bought.
type Plan struct {
	Key               string   `json:"key"`
	Name              string   `json:"name"`
	MonthlyPriceCents int64    `json:"monthly_price_cents"`
	PlanID            string   `json:"plan_id,omitempty"`
	Features          []string `json:"features"`

	priceID string
}

// Purchasable reports whether the plan can be checked out.
func (p Plan) Purchasable() bool {
	return p.PlanID != ""
}

var planDefinitions = []Plan{
	{
		Key:               PlanFree,
		Name:              "Free",
		MonthlyPriceCents: 0,
		Features:          []string{"10 AI requests/month", "Basic support", "Community access"},
	},
	{
		Key:               PlanBasic,
		Name:              "Basic",
		MonthlyPriceCents: 999,
		PlanID:            PlanBasic,
		Features:          []string{"100 AI requests/month", "Email support", "Priority access"},
	},
	{
		Key:               PlanPro,
		Name:              "Pro",
		MonthlyPriceCents: 2999,
		PlanID:            PlanPro,
		Features:          []string{"Unlimited AI requests", "Priority support", "Advanced features"},
	},
}

func (p Plan) clone() Plan {
	p.Features = append([]string(nil), p.Features...)
	return p
}

// Catalog is the immutable plan table bound to processor price ids.
// It is safe for concurrent use.
type Catalog struct {
	plans    []Plan
	byPlanID map[string]Plan
	byPrice  map[string]Plan
}

// NewCatalog binds every purchasable plan to its price id. It fails when
// any purchasable plan has no price configured, so a misconfigured
// deployment never starts.
func NewCatalog(prices map[string]string) (*Catalog, error) {
	c := &Catalog{
		byPlanID: make(map[string]Plan),
		byPrice:  make(map[string]Plan),
	}
	for _, p := range planDefinitions {
		p.Features = append([]string(nil), p.Features...)
		if p.Purchasable() {
			price := prices[p.PlanID]
			if price == "" {
				return nil, fmt.Errorf("%w: no price id configured for %q", ErrUnknownPlan, p.PlanID)
			}
			if other, dup := c.byPrice[price]; dup {
				return nil, fmt.Errorf("billing: price id %s bound to both %q and %q", price, other.Key, p.Key)
			}
			p.priceID = price
			c.byPlanID[p.PlanID] = p
			c.byPrice[price] = p
		}
		c.plans = append(c.plans, p)
	}
	return c, nil
}

// Plans returns every plan in display order.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, len(c.plans))
	for i, p := range c.plans {
		out[i] = p.clone()
	}
	return out
}

// Free returns the free plan.
func (c *Catalog) Free() Plan {
	return c.plans[0].clone()
}

// ResolvePriceID returns the processor price id for a purchasable plan.
func (c *Catalog) ResolvePriceID(planID string) (string, error) {
	p, ok := c.byPlanID[planID]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPlan, planID)
	}
	return p.priceID, nil
}

// PlanForPrice maps a stored price id back to its plan. Unknown or empty
// price ids map to the free plan.
func (c *Catalog) PlanForPrice(priceID string) Plan {
	if p, ok := c.byPrice[priceID]; ok {
		return p.clone()
	}
	return c.Free()
}
