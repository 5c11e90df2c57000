package routes

import (
	"github.com/wrenchly/wrenchly/internal/router"
)

// RegisterAPIRoutes registers the tenant-scoped shop API. Everything here
// sits behind the billing gate and returns 402 when the account is locked.
func RegisterAPIRoutes(r *router.Router, deps APIDeps) {
	group := r.Group(deps.ResolveTenant, deps.RequireTenant, deps.RequireBilling)

	group.Post("/api/work-orders", deps.ShopHandler.CreateWorkOrder)
	group.Post("/api/invoices", deps.ShopHandler.CreateInvoice)
}
