package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/passculture/pass-culture-core/internal/model"
)

// LockUsers блокирует строки пользователей до конца транзакции.
func (t *pgTx) LockUsers(ctx context.Context, ids []int64) error {
	rows, err := t.tx.Query(ctx, `SELECT id FROM users WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return fmt.Errorf("lock users for update: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("lock users for update: %w", err)
	}
	return nil
}

// GetUser возвращает пользователя вместе с депозитами и их пополнениями.
func (t *pgTx) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var (
		u     model.User
		roles []string
	)
	err := t.tx.QueryRow(ctx,
		`SELECT id, birth_date, roles, eligibility_registered_at, has_pending_subscription_steps
		 FROM users
		 WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.BirthDate, &roles, &u.EligibilityRegisteredAt, &u.HasPendingSubscriptionSteps)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	for _, r := range roles {
		u.Roles = append(u.Roles, model.UserRole(r))
	}

	deposits, err := t.depositsByUser(ctx, id)
	if err != nil {
		return nil, err
	}
	u.Deposits = deposits

	return &u, nil
}

func (t *pgTx) depositsByUser(ctx context.Context, userID int64) ([]model.Deposit, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, user_id, type, version, amount, expiration_date, date_created, source
		 FROM deposits
		 WHERE user_id = $1
		 ORDER BY date_created, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select deposits: %w", err)
	}
	defer rows.Close()

	var (
		deposits []model.Deposit
		ids      []int64
	)
	for rows.Next() {
		var (
			d       model.Deposit
			depType string
		)
		if err := rows.Scan(&d.ID, &d.UserID, &depType, &d.Version, &d.Amount, &d.ExpirationDate, &d.DateCreated, &d.Source); err != nil {
			return nil, fmt.Errorf("scan deposit: %w", err)
		}
		d.Type = model.DepositType(depType)
		deposits = append(deposits, d)
		ids = append(ids, d.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	if len(deposits) == 0 {
		return nil, nil
	}

	recredits, err := t.tx.Query(ctx,
		`SELECT id, deposit_id, recredit_type, amount, date_created, comment
		 FROM recredits
		 WHERE deposit_id = ANY($1)
		 ORDER BY date_created, id`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("select recredits: %w", err)
	}
	defer recredits.Close()

	byDeposit := make(map[int64][]model.Recredit, len(ids))
	for recredits.Next() {
		var (
			r      model.Recredit
			reType string
		)
		if err := recredits.Scan(&r.ID, &r.DepositID, &reType, &r.Amount, &r.DateCreated, &r.Comment); err != nil {
			return nil, fmt.Errorf("scan recredit: %w", err)
		}
		r.Type = model.RecreditType(reType)
		byDeposit[r.DepositID] = append(byDeposit[r.DepositID], r)
	}
	if err := recredits.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	for i := range deposits {
		deposits[i].Recredits = byDeposit[deposits[i].ID]
	}
	return deposits, nil
}

// ListRecreditCandidates возвращает пользователей с одной из ролей, родившихся в (bornAfter, bornBefore].
func (t *pgTx) ListRecreditCandidates(ctx context.Context, roles []model.UserRole, bornAfter, bornBefore time.Time) ([]int64, error) {
	roleNames := make([]string, 0, len(roles))
	for _, r := range roles {
		roleNames = append(roleNames, string(r))
	}

	rows, err := t.tx.Query(ctx,
		`SELECT id
		 FROM users
		 WHERE roles && $1 AND birth_date > $2 AND birth_date <= $3
		 ORDER BY id`,
		roleNames, bornAfter, bornBefore,
	)
	if err != nil {
		return nil, fmt.Errorf("select recredit candidates: %w", err)
	}
	defer rows.Close()

	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("collect recredit candidates: %w", err)
	}
	return ids, nil
}

// CreateDeposit сохраняет депозит и заполняет его идентификатор.
func (t *pgTx) CreateDeposit(ctx context.Context, d *model.Deposit) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO deposits (user_id, type, version, amount, expiration_date, date_created, source)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		d.UserID, string(d.Type), d.Version, d.Amount, d.ExpirationDate, d.DateCreated, d.Source,
	).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("insert deposit: %w", err)
	}
	return nil
}

// UpdateDeposit сохраняет сумму и дату окончания депозита.
func (t *pgTx) UpdateDeposit(ctx context.Context, d *model.Deposit) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE deposits SET amount = $2, expiration_date = $3 WHERE id = $1`,
		d.ID, d.Amount, d.ExpirationDate,
	)
	if err != nil {
		return fmt.Errorf("update deposit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deposit %d: %w", d.ID, ErrNotFound)
	}
	return nil
}

// CreateRecredit сохраняет пополнение депозита.
func (t *pgTx) CreateRecredit(ctx context.Context, r *model.Recredit) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO recredits (deposit_id, recredit_type, amount, date_created, comment)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		r.DepositID, string(r.Type), r.Amount, r.DateCreated, r.Comment,
	).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("insert recredit: %w", err)
	}
	return nil
}

// ListBookingsByDeposit возвращает бронирования, оплаченные из депозита.
func (t *pgTx) ListBookingsByDeposit(ctx context.Context, depositID int64) ([]model.Booking, error) {
	return t.queryBookings(ctx, bookingSelect+` WHERE b.deposit_id = $1 ORDER BY b.id`, depositID)
}

// MoveBookingsToDeposit перепривязывает бронирования к другому депозиту.
func (t *pgTx) MoveBookingsToDeposit(ctx context.Context, bookingIDs []int64, depositID int64) error {
	if len(bookingIDs) == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx,
		`UPDATE bookings SET deposit_id = $2 WHERE id = ANY($1)`,
		bookingIDs, depositID,
	)
	if err != nil {
		return fmt.Errorf("move bookings: %w", err)
	}
	return nil
}
