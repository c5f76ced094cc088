package finance

import "errors"

// ErrNonCancellablePricing - расчёт в статусе, который нельзя отменить или удалить. Возникает,
// если нарушен порядок расчётов по финансовой единице.
var ErrNonCancellablePricing = errors.New("pricing cannot be cancelled")
