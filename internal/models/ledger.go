package models

import "time"

// Типы записей в журнале баланса курьера. Журнал append-only:
// исправления делаются новой записью ADJUSTMENT, а не правкой старых строк.
const (
	TxnTypeDeliveryFee    = "DELIVERY_FEE"
	TxnTypeCashCollection = "CASH_COLLECTION"
	TxnTypeAdminPayment   = "ADMIN_PAYMENT"
	TxnTypeAdjustment     = "ADJUSTMENT"
)

type BalanceTransaction struct {
	ID        uint64
	CourierID uint64
	OrderID   *uint64
	Type      string
	// Amount is signed, in minor currency units. Credits are positive,
	// admin payments to the courier are negative.
	Amount    int64
	Reference string
	CreatedAt time.Time
}
