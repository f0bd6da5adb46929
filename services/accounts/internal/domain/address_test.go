package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddress_Defaults(t *testing.T) {
	a := &Address{}
	assert.Empty(t, a.Defaults())

	a.IsDefaultBilling = true
	assert.Equal(t, []DefaultKind{DefaultBilling}, a.Defaults())

	a.IsDefaultShipping = true
	assert.Equal(t, []DefaultKind{DefaultShipping, DefaultBilling}, a.Defaults())
	assert.False(t, a.IsDefault(DefaultKind("gift")))
}

func TestPromoted(t *testing.T) {
	before := &Address{IsDefaultShipping: true}
	after := &Address{IsDefaultShipping: true, IsDefaultBilling: true}
	assert.Equal(t, []DefaultKind{DefaultBilling}, Promoted(before, after))

	// Unsetting is not a promotion.
	assert.Empty(t, Promoted(after, &Address{}))
}
