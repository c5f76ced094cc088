package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/passculture/pass-culture-core/internal/model"
)

const bookingSelect = `SELECT b.id, b.user_id, b.deposit_id, b.offer_id, b.venue_id, b.offerer_id,
       o.subcategory, o.is_digital, b.amount, b.quantity, b.status, b.date_created, b.date_used,
       bu.id, bu.name, bu.siret
FROM bookings b
JOIN offers o ON o.id = b.offer_id
JOIN venues v ON v.id = b.venue_id
LEFT JOIN business_units bu ON bu.id = v.business_unit_id`

func scanBooking(row rowScanner) (model.Booking, error) {
	var (
		b      model.Booking
		status string
		buID   *int64
		buName *string
		siret  *string
	)
	err := row.Scan(&b.ID, &b.UserID, &b.DepositID, &b.OfferID, &b.VenueID, &b.OffererID,
		&b.Subcategory, &b.IsDigital, &b.Amount, &b.Quantity, &status, &b.DateCreated, &b.DateUsed,
		&buID, &buName, &siret)
	if err != nil {
		return b, err
	}
	b.Status = model.BookingStatus(status)
	if buID != nil {
		b.BusinessUnit = &model.BusinessUnit{ID: *buID}
		if buName != nil {
			b.BusinessUnit.Name = *buName
		}
		if siret != nil {
			b.BusinessUnit.Siret = *siret
		}
	}
	return b, nil
}

func (t *pgTx) queryBookings(ctx context.Context, query string, args ...any) ([]model.Booking, error) {
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select bookings: %w", err)
	}
	defer rows.Close()

	var res []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		res = append(res, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// LockBusinessUnit захватывает эксклюзивную блокировку финансовой единицы до конца транзакции.
func (t *pgTx) LockBusinessUnit(ctx context.Context, id int64) error {
	var dummy int
	err := t.tx.QueryRow(ctx, `SELECT 1 FROM business_units WHERE id = $1 FOR UPDATE`, id).Scan(&dummy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("business unit %d: %w", id, ErrNotFound)
		}
		return fmt.Errorf("lock business unit for update: %w", err)
	}
	return nil
}

// GetBooking возвращает бронирование, перечитанное из БД.
func (t *pgTx) GetBooking(ctx context.Context, id int64) (*model.Booking, error) {
	b, err := scanBooking(t.tx.QueryRow(ctx, bookingSelect+` WHERE b.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("booking %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return &b, nil
}

// ListBookingsToPrice возвращает использованные бронирования без действующего расчёта
// в порядке (date_used, id).
func (t *pgTx) ListBookingsToPrice(ctx context.Context, usedFrom, usedTo time.Time) ([]model.Booking, error) {
	return t.queryBookings(ctx, bookingSelect+`
WHERE b.status = $1
  AND b.date_used >= $2 AND b.date_used <= $3
  AND v.business_unit_id IS NOT NULL
  AND NOT EXISTS (
      SELECT 1 FROM pricings p WHERE p.booking_id = b.id AND p.status <> $4
  )
ORDER BY b.date_used, b.id`,
		string(model.BookingStatusUsed), usedFrom, usedTo, string(model.PricingStatusCancelled),
	)
}

const pricingSelect = `SELECT id, booking_id, business_unit_id, siret, status, amount, revenue,
       value_date, creation_date, standard_rule, custom_rule_id
FROM pricings`

func scanPricing(row rowScanner) (model.Pricing, error) {
	var (
		p      model.Pricing
		status string
	)
	err := row.Scan(&p.ID, &p.BookingID, &p.BusinessUnitID, &p.Siret, &status, &p.Amount, &p.Revenue,
		&p.ValueDate, &p.CreationDate, &p.StandardRule, &p.CustomRuleID)
	p.Status = model.PricingStatus(status)
	return p, err
}

func (t *pgTx) queryPricing(ctx context.Context, query string, args ...any) (*model.Pricing, error) {
	p, err := scanPricing(t.tx.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get pricing: %w", err)
	}
	if err := t.loadLines(ctx, []*model.Pricing{&p}); err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *pgTx) loadLines(ctx context.Context, pricings []*model.Pricing) error {
	if len(pricings) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(pricings))
	byID := make(map[int64]*model.Pricing, len(pricings))
	for _, p := range pricings {
		ids = append(ids, p.ID)
		byID[p.ID] = p
	}

	rows, err := t.tx.Query(ctx,
		`SELECT id, pricing_id, category, amount FROM pricing_lines WHERE pricing_id = ANY($1) ORDER BY id`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("select pricing lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			l        model.PricingLine
			category string
		)
		if err := rows.Scan(&l.ID, &l.PricingID, &category, &l.Amount); err != nil {
			return fmt.Errorf("scan pricing line: %w", err)
		}
		l.Category = model.PricingLineCategory(category)
		byID[l.PricingID].Lines = append(byID[l.PricingID].Lines, l)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}
	return nil
}

// GetNonCancelledPricing возвращает действующий расчёт бронирования.
func (t *pgTx) GetNonCancelledPricing(ctx context.Context, bookingID int64) (*model.Pricing, error) {
	return t.queryPricing(ctx, pricingSelect+` WHERE booking_id = $1 AND status <> $2`,
		bookingID, string(model.PricingStatusCancelled))
}

// GetLatestPricing возвращает последний по (value_date, booking_id) неотменённый расчёт финансовой единицы.
func (t *pgTx) GetLatestPricing(ctx context.Context, businessUnitID int64) (*model.Pricing, error) {
	return t.queryPricing(ctx, pricingSelect+`
WHERE business_unit_id = $1 AND status <> $2
ORDER BY value_date DESC, booking_id DESC
LIMIT 1`,
		businessUnitID, string(model.PricingStatusCancelled))
}

// ListPricingsAfter возвращает расчёты финансовой единицы, у которых (value_date, booking_id)
// строго больше переданной пары.
func (t *pgTx) ListPricingsAfter(ctx context.Context, businessUnitID int64, valueDate time.Time, bookingID int64) ([]model.Pricing, error) {
	rows, err := t.tx.Query(ctx, pricingSelect+`
WHERE business_unit_id = $1 AND (value_date, booking_id) > ($2, $3)
ORDER BY value_date, booking_id`,
		businessUnitID, valueDate, bookingID,
	)
	if err != nil {
		return nil, fmt.Errorf("select dependent pricings: %w", err)
	}
	defer rows.Close()

	var res []model.Pricing
	for rows.Next() {
		p, err := scanPricing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pricing: %w", err)
		}
		res = append(res, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// ListPricings возвращает историю расчётов бронирования вместе со строками.
func (t *pgTx) ListPricings(ctx context.Context, bookingID int64) ([]model.Pricing, error) {
	rows, err := t.tx.Query(ctx, pricingSelect+` WHERE booking_id = $1 ORDER BY id`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("select booking pricings: %w", err)
	}
	defer rows.Close()

	var res []model.Pricing
	for rows.Next() {
		p, err := scanPricing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pricing: %w", err)
		}
		res = append(res, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	ptrs := make([]*model.Pricing, len(res))
	for i := range res {
		ptrs[i] = &res[i]
	}
	if err := t.loadLines(ctx, ptrs); err != nil {
		return nil, err
	}
	return res, nil
}

// ListPricingLogs возвращает журнал смены статусов всех расчётов бронирования.
func (t *pgTx) ListPricingLogs(ctx context.Context, bookingID int64) ([]model.PricingLog, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT l.id, l.pricing_id, l.timestamp, l.status_before, l.status_after, l.reason
		 FROM pricing_logs l
		 JOIN pricings p ON p.id = l.pricing_id
		 WHERE p.booking_id = $1
		 ORDER BY l.id`,
		bookingID,
	)
	if err != nil {
		return nil, fmt.Errorf("select pricing logs: %w", err)
	}
	defer rows.Close()

	var res []model.PricingLog
	for rows.Next() {
		var (
			l                                 model.PricingLog
			statusBefore, statusAfter, reason string
		)
		if err := rows.Scan(&l.ID, &l.PricingID, &l.Timestamp, &statusBefore, &statusAfter, &reason); err != nil {
			return nil, fmt.Errorf("scan pricing log: %w", err)
		}
		l.StatusBefore = model.PricingStatus(statusBefore)
		l.StatusAfter = model.PricingStatus(statusAfter)
		l.Reason = model.PricingLogReason(reason)
		res = append(res, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// CreatePricing сохраняет расчёт вместе со строками.
func (t *pgTx) CreatePricing(ctx context.Context, p *model.Pricing) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO pricings (status, booking_id, business_unit_id, siret, creation_date, value_date,
		                       amount, revenue, standard_rule, custom_rule_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id`,
		string(p.Status), p.BookingID, p.BusinessUnitID, p.Siret, p.CreationDate, p.ValueDate,
		p.Amount, p.Revenue, p.StandardRule, p.CustomRuleID,
	).Scan(&p.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: booking %d", ErrPricingAlreadyExists, p.BookingID)
		}
		return fmt.Errorf("insert pricing: %w", err)
	}

	for i := range p.Lines {
		p.Lines[i].PricingID = p.ID
		err := t.tx.QueryRow(ctx,
			`INSERT INTO pricing_lines (pricing_id, amount, category) VALUES ($1, $2, $3) RETURNING id`,
			p.ID, p.Lines[i].Amount, string(p.Lines[i].Category),
		).Scan(&p.Lines[i].ID)
		if err != nil {
			return fmt.Errorf("insert pricing line: %w", err)
		}
	}
	return nil
}

// UpdatePricingStatus меняет статус расчёта.
func (t *pgTx) UpdatePricingStatus(ctx context.Context, id int64, status model.PricingStatus) error {
	tag, err := t.tx.Exec(ctx, `UPDATE pricings SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("update pricing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pricing %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeletePricings удаляет расчёты; строки и журнал удаляются каскадно.
func (t *pgTx) DeletePricings(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM pricings WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("delete pricings: %w", err)
	}
	return nil
}

// CreatePricingLog сохраняет запись журнала смены статуса.
func (t *pgTx) CreatePricingLog(ctx context.Context, l *model.PricingLog) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO pricing_logs (pricing_id, timestamp, status_before, status_after, reason)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		l.PricingID, l.Timestamp, string(l.StatusBefore), string(l.StatusAfter), string(l.Reason),
	).Scan(&l.ID)
	if err != nil {
		return fmt.Errorf("insert pricing log: %w", err)
	}
	return nil
}

// ListCustomReimbursementRules возвращает особые правила, нацеленные на предложение, площадку
// или организацию бронирования.
func (t *pgTx) ListCustomReimbursementRules(ctx context.Context, b model.Booking) ([]model.CustomReimbursementRule, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, offer_id, venue_id, offerer_id, subcategories, amount, rate, lower(timespan), upper(timespan)
		 FROM custom_reimbursement_rules
		 WHERE offer_id = $1 OR venue_id = $2 OR offerer_id = $3
		 ORDER BY id`,
		b.OfferID, b.VenueID, b.OffererID,
	)
	if err != nil {
		return nil, fmt.Errorf("select custom rules: %w", err)
	}
	defer rows.Close()

	var res []model.CustomReimbursementRule
	for rows.Next() {
		var (
			r    model.CustomReimbursementRule
			rate decimal.NullDecimal
		)
		if err := rows.Scan(&r.ID, &r.OfferID, &r.VenueID, &r.OffererID, &r.Subcategories, &r.Amount,
			&rate, &r.TimespanStart, &r.TimespanEnd); err != nil {
			return nil, fmt.Errorf("scan custom rule: %w", err)
		}
		if rate.Valid {
			r.Rate = &rate.Decimal
		}
		res = append(res, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}
