package service

import (
	"github.com/wrenchly/wrenchly/internal/domain"
)

// Account lifecycle errors
var (
	ErrAccountUnresolved = domain.Errorf(domain.ENOTFOUND, "", "No account matches this billing event")
	ErrNoCustomerRef     = domain.Errorf(domain.EINVALID, "", "Account has no billing customer reference")
	ErrCheckoutFailed    = domain.Errorf(domain.EINTERNAL, "", "Failed to create checkout session")
)
