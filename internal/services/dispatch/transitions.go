package dispatch

import "github.com/BearBump/CourierDesk/internal/models"

// Edge is one directed move in the order lifecycle.
type Edge struct {
	From string
	To   string
}

// transitionTable перечисляет все разрешённые переходы и роли, которым они
// доступны. Всё, чего здесь нет, — InvalidTransition.
//
// ASSIGNED достигается только через claim (координатор назначения), DELIVERED —
// только через проверку кода доставки; обе записи присутствуют в таблице, но
// сервис не даёт выполнить их через общий Transition.
var transitionTable = map[Edge][]string{
	{models.OrderStatusPending, models.OrderStatusConfirmed}:   {models.RoleAdmin},
	{models.OrderStatusConfirmed, models.OrderStatusPreparing}: {models.RoleAdmin, models.RoleKitchen},
	{models.OrderStatusPreparing, models.OrderStatusReady}:     {models.RoleAdmin, models.RoleKitchen},

	{models.OrderStatusConfirmed, models.OrderStatusAssigned}: {models.RoleCourier},
	{models.OrderStatusPreparing, models.OrderStatusAssigned}: {models.RoleCourier},
	{models.OrderStatusReady, models.OrderStatusAssigned}:     {models.RoleCourier},

	{models.OrderStatusAssigned, models.OrderStatusInTransit}:  {models.RoleCourier},
	{models.OrderStatusInTransit, models.OrderStatusDelivered}: {models.RoleCourier},

	{models.OrderStatusPending, models.OrderStatusCancelled}:   {models.RoleAdmin, models.RoleCustomer},
	{models.OrderStatusConfirmed, models.OrderStatusCancelled}: {models.RoleAdmin, models.RoleCustomer},
	{models.OrderStatusPreparing, models.OrderStatusCancelled}: {models.RoleAdmin, models.RoleCustomer},
	{models.OrderStatusReady, models.OrderStatusCancelled}:     {models.RoleAdmin, models.RoleCustomer},
	{models.OrderStatusAssigned, models.OrderStatusCancelled}:  {models.RoleAdmin, models.RoleCustomer},
	{models.OrderStatusInTransit, models.OrderStatusCancelled}: {models.RoleAdmin, models.RoleCustomer},
}

// Allowed reports whether the (from, to, role) triple is a documented edge.
// Pure function of its inputs.
func Allowed(from, to, role string) bool {
	roles, ok := transitionTable[Edge{From: from, To: to}]
	if !ok {
		return false
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// Statuses and Roles are exported for exhaustive table tests.
var Statuses = []string{
	models.OrderStatusPending,
	models.OrderStatusConfirmed,
	models.OrderStatusPreparing,
	models.OrderStatusReady,
	models.OrderStatusAssigned,
	models.OrderStatusInTransit,
	models.OrderStatusDelivered,
	models.OrderStatusCancelled,
}

var Roles = []string{
	models.RoleAdmin,
	models.RoleKitchen,
	models.RoleCourier,
	models.RoleCustomer,
	models.RoleSystem,
}
