package domain

import (
	"time"
)

// DefaultKind names one of the two per-user default address slots.
type DefaultKind string

const (
	DefaultShipping DefaultKind = "shipping"
	DefaultBilling  DefaultKind = "billing"
)

// DefaultKinds lists both slots in a stable order.
func DefaultKinds() []DefaultKind {
	return []DefaultKind{DefaultShipping, DefaultBilling}
}

// Address is a postal address owned by a single user. A user has at most one
// address flagged IsDefaultShipping and at most one flagged IsDefaultBilling.
type Address struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	Street            string    `json:"street"`
	City              string    `json:"city"`
	State             string    `json:"state"`
	PostalCode        string    `json:"postal_code"`
	Country           string    `json:"country"`
	IsDefaultShipping bool      `json:"is_default_shipping"`
	IsDefaultBilling  bool      `json:"is_default_billing"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// IsDefault reports whether the address holds the given default slot.
func (a *Address) IsDefault(kind DefaultKind) bool {
	switch kind {
	case DefaultShipping:
		return a.IsDefaultShipping
	case DefaultBilling:
		return a.IsDefaultBilling
	}
	return false
}

// Defaults returns the slots this address currently holds.
func (a *Address) Defaults() []DefaultKind {
	var kinds []DefaultKind
	for _, k := range DefaultKinds() {
		if a.IsDefault(k) {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Promoted returns the slots that after holds and before did not.
func Promoted(before, after *Address) []DefaultKind {
	var kinds []DefaultKind
	for _, k := range DefaultKinds() {
		if after.IsDefault(k) && !before.IsDefault(k) {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// AddressDefaults is a user's current default shipping and billing
// addresses. Either may be nil.
type AddressDefaults struct {
	Shipping *Address `json:"shipping"`
	Billing  *Address `json:"billing"`
}
