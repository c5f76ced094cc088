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

const collectiveBookingSelect = `SELECT id, collective_stock_id, educational_institution_id, educational_redactor_id,
       educational_deposit_id, status, date_created, confirmation_date, confirmation_limit_date,
       cancellation_date, cancellation_reason, cancellation_user_id, date_used, reimbursement_date
FROM collective_bookings`

const collectiveStockSelect = `SELECT id, collective_offer_id, price, number_of_tickets, start_datetime, end_datetime,
       booking_limit_datetime
FROM collective_stocks`

func scanCollectiveBooking(row rowScanner) (model.CollectiveBooking, error) {
	var (
		b      model.CollectiveBooking
		status string
		reason *string
	)
	err := row.Scan(&b.ID, &b.StockID, &b.InstitutionID, &b.RedactorID, &b.EducationalDepositID, &status,
		&b.DateCreated, &b.ConfirmationDate, &b.ConfirmationLimitDate, &b.CancellationDate, &reason,
		&b.CancellationUserID, &b.DateUsed, &b.ReimbursementDate)
	b.Status = model.CollectiveBookingStatus(status)
	if reason != nil {
		r := model.CollectiveBookingCancellationReason(*reason)
		b.CancellationReason = &r
	}
	return b, err
}

func scanCollectiveStock(row rowScanner) (model.CollectiveStock, error) {
	var s model.CollectiveStock
	err := row.Scan(&s.ID, &s.OfferID, &s.Price, &s.NumberOfTickets, &s.StartDatetime, &s.EndDatetime,
		&s.BookingLimitDatetime)
	return s, err
}

// GetCollectiveOffer возвращает предложение вместе со стоком и всеми его бронированиями.
func (t *pgTx) GetCollectiveOffer(ctx context.Context, id int64) (*model.CollectiveOffer, error) {
	var (
		o          model.CollectiveOffer
		validation string
	)
	err := t.tx.QueryRow(ctx,
		`SELECT id, name, validation, is_active, date_archived, provider_id, date_created
		 FROM collective_offers
		 WHERE id = $1`,
		id,
	).Scan(&o.ID, &o.Name, &validation, &o.IsActive, &o.DateArchived, &o.ProviderID, &o.DateCreated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("collective offer %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get collective offer: %w", err)
	}
	o.Validation = model.OfferValidationStatus(validation)

	stock, err := scanCollectiveStock(t.tx.QueryRow(ctx, collectiveStockSelect+` WHERE collective_offer_id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &o, nil
		}
		return nil, fmt.Errorf("get collective stock: %w", err)
	}

	rows, err := t.tx.Query(ctx, collectiveBookingSelect+` WHERE collective_stock_id = $1 ORDER BY date_created, id`, stock.ID)
	if err != nil {
		return nil, fmt.Errorf("select collective bookings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		b, err := scanCollectiveBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan collective booking: %w", err)
		}
		stock.Bookings = append(stock.Bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	o.Stock = &stock
	return &o, nil
}

// GetCollectiveOfferTemplate возвращает шаблон предложения.
func (t *pgTx) GetCollectiveOfferTemplate(ctx context.Context, id int64) (*model.CollectiveOfferTemplate, error) {
	var (
		tpl        model.CollectiveOfferTemplate
		validation string
	)
	err := t.tx.QueryRow(ctx,
		`SELECT id, name, validation, is_active, date_archived, lower(date_range), upper(date_range)
		 FROM collective_offer_templates
		 WHERE id = $1`,
		id,
	).Scan(&tpl.ID, &tpl.Name, &validation, &tpl.IsActive, &tpl.DateArchived, &tpl.DateRangeStart, &tpl.DateRangeEnd)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("collective offer template %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get collective offer template: %w", err)
	}
	tpl.Validation = model.OfferValidationStatus(validation)
	return &tpl, nil
}

// GetCollectiveBooking возвращает бронирование вместе с его стоком (без остальных бронирований стока).
func (t *pgTx) GetCollectiveBooking(ctx context.Context, id int64) (*model.CollectiveBooking, error) {
	return t.getCollectiveBooking(ctx, collectiveBookingSelect+` WHERE id = $1`, id)
}

// GetAndLockCollectiveBooking возвращает бронирование, удерживая блокировку строки до конца транзакции.
func (t *pgTx) GetAndLockCollectiveBooking(ctx context.Context, id int64) (*model.CollectiveBooking, error) {
	return t.getCollectiveBooking(ctx, collectiveBookingSelect+` WHERE id = $1 FOR UPDATE`, id)
}

func (t *pgTx) getCollectiveBooking(ctx context.Context, query string, id int64) (*model.CollectiveBooking, error) {
	b, err := scanCollectiveBooking(t.tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("collective booking %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get collective booking: %w", err)
	}

	stock, err := scanCollectiveStock(t.tx.QueryRow(ctx, collectiveStockSelect+` WHERE id = $1`, b.StockID))
	if err != nil {
		return nil, fmt.Errorf("get collective stock: %w", err)
	}
	b.Stock = &stock

	return &b, nil
}

// UpdateCollectiveBooking сохраняет статус и связанные с ним поля бронирования.
func (t *pgTx) UpdateCollectiveBooking(ctx context.Context, b *model.CollectiveBooking) error {
	var reason *string
	if b.CancellationReason != nil {
		r := string(*b.CancellationReason)
		reason = &r
	}

	tag, err := t.tx.Exec(ctx,
		`UPDATE collective_bookings
		 SET status = $2, educational_deposit_id = $3, confirmation_date = $4, cancellation_date = $5,
		     cancellation_reason = $6, cancellation_user_id = $7, date_used = $8, reimbursement_date = $9
		 WHERE id = $1`,
		b.ID, string(b.Status), b.EducationalDepositID, b.ConfirmationDate, b.CancellationDate,
		reason, b.CancellationUserID, b.DateUsed, b.ReimbursementDate,
	)
	if err != nil {
		return fmt.Errorf("update collective booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("collective booking %d: %w", b.ID, ErrNotFound)
	}
	return nil
}

// GetAndLockEducationalDeposit возвращает фонд заведения, действующий в момент at, и блокирует его строку.
// Блокировка сериализует все подтверждения по этому фонду: держать её дольше необходимого нельзя.
func (t *pgTx) GetAndLockEducationalDeposit(ctx context.Context, institutionID int64, at time.Time) (*model.EducationalDeposit, error) {
	var d model.EducationalDeposit
	err := t.tx.QueryRow(ctx,
		`SELECT id, educational_institution_id, amount, is_final, lower(period), upper(period)
		 FROM educational_deposits
		 WHERE educational_institution_id = $1 AND period @> $2::timestamptz
		 FOR UPDATE`,
		institutionID, at,
	).Scan(&d.ID, &d.InstitutionID, &d.Amount, &d.IsFinal, &d.PeriodStart, &d.PeriodEnd)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("educational deposit for institution %d: %w", institutionID, ErrNotFound)
		}
		return nil, fmt.Errorf("lock educational deposit: %w", err)
	}
	return &d, nil
}

// SumEducationalDepositSpending возвращает сумму подтверждённых, использованных и возмещённых
// бронирований, списанных с фонда.
func (t *pgTx) SumEducationalDepositSpending(ctx context.Context, depositID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(s.price), 0)
		 FROM collective_bookings cb
		 JOIN collective_stocks s ON s.id = cb.collective_stock_id
		 WHERE cb.educational_deposit_id = $1 AND cb.status IN ($2, $3, $4)`,
		depositID,
		string(model.CollectiveBookingStatusConfirmed),
		string(model.CollectiveBookingStatusUsed),
		string(model.CollectiveBookingStatusReimbursed),
	).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum educational deposit spending: %w", err)
	}
	return total, nil
}

// ListExpiredPendingCollectiveBookings возвращает ожидающие бронирования с истёкшим сроком подтверждения.
func (t *pgTx) ListExpiredPendingCollectiveBookings(ctx context.Context, now time.Time) ([]int64, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id FROM collective_bookings WHERE status = $1 AND confirmation_limit_date < $2 ORDER BY id`,
		string(model.CollectiveBookingStatusPending), now,
	)
	if err != nil {
		return nil, fmt.Errorf("select expired collective bookings: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("collect expired collective bookings: %w", err)
	}
	return ids, nil
}

// ListConfirmedCollectiveBookingsEndedBefore возвращает подтверждённые бронирования мероприятий,
// закончившихся до before.
func (t *pgTx) ListConfirmedCollectiveBookingsEndedBefore(ctx context.Context, before time.Time) ([]int64, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT cb.id
		 FROM collective_bookings cb
		 JOIN collective_stocks s ON s.id = cb.collective_stock_id
		 WHERE cb.status = $1 AND s.end_datetime < $2
		 ORDER BY cb.id`,
		string(model.CollectiveBookingStatusConfirmed), before,
	)
	if err != nil {
		return nil, fmt.Errorf("select ended collective bookings: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("collect ended collective bookings: %w", err)
	}
	return ids, nil
}
