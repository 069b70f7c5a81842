package billing

import "errors"

var (
	// ErrUnknownPlan is returned for plan ids that are not purchasable.
	ErrUnknownPlan = errors.New("billing: unknown plan")
	// ErrNoCustomer is returned when the portal is requested before the
	// user ever started a checkout.
	ErrNoCustomer = errors.New("billing: no processor customer for user")
)
