// Package notify предоставляет клиент для внешнего сервиса рассылки транзакционных писем.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/passculture/pass-culture-core/internal/model"
)

// EventKind - тип события для рассылки.
type EventKind string

const (
	EventDepositRecredited            EventKind = "DEPOSIT_RECREDITED"
	EventCollectiveBookingConfirmed   EventKind = "COLLECTIVE_BOOKING_CONFIRMED"
	EventCollectiveBookingCancelled   EventKind = "COLLECTIVE_BOOKING_CANCELLED"
	EventCollectiveBookingUncancelled EventKind = "COLLECTIVE_BOOKING_UNCANCELLED"
)

// Event описывает одно уведомление.
type Event struct {
	Kind      EventKind        `json:"kind"`
	UserID    int64            `json:"userId,omitempty"`
	BookingID int64            `json:"bookingId,omitempty"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	Type      string           `json:"type,omitempty"`
	Reason    string           `json:"reason,omitempty"`
}

// Client инкапсулирует HTTP-взаимодействие с сервисом рассылки. Нулевой клиент ничего не отправляет.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент сервиса рассылки по указанному адресу. Пустой адрес отключает рассылку.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		return nil
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Send отправляет событие. При ответе 429 возвращает код ответа и значение Retry-After без ошибки.
func (c *Client) Send(ctx context.Context, e Event) (int, time.Duration, error) {
	if c == nil {
		return 0, 0, nil
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	body, err := json.Marshal(e)
	if err != nil {
		return 0, 0, fmt.Errorf("encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/events", bytes.NewReader(body))
	if err != nil {
		return 0, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return resp.StatusCode, retryAfter, nil
	}

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return resp.StatusCode, 0, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return resp.StatusCode, 0, nil
}

// Deliver отправляет событие, один раз повторяя попытку после паузы Retry-After.
func (c *Client) Deliver(ctx context.Context, e Event) error {
	code, retryAfter, err := c.Send(ctx, e)
	if err != nil || code != http.StatusTooManyRequests {
		return err
	}

	timer := time.NewTimer(retryAfter)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
	}

	code, _, err = c.Send(ctx, e)
	if err != nil {
		return err
	}
	if code == http.StatusTooManyRequests {
		return fmt.Errorf("mail dispatcher rate limit exceeded")
	}
	return nil
}

// DepositRecredited уведомляет бенефициара о пополнении депозита.
func (c *Client) DepositRecredited(ctx context.Context, userID int64, r model.Recredit) error {
	amount := r.Amount
	return c.Deliver(ctx, Event{
		Kind:   EventDepositRecredited,
		UserID: userID,
		Amount: &amount,
		Type:   string(r.Type),
	})
}

// CollectiveBookingChanged уведомляет стороны образовательного бронирования о переходе event.
// О переходах без письма (use, reimburse) не сообщается.
func (c *Client) CollectiveBookingChanged(ctx context.Context, event string, b model.CollectiveBooking) error {
	e := Event{BookingID: b.ID, Type: string(b.Status)}
	switch event {
	case "confirm":
		e.Kind = EventCollectiveBookingConfirmed
	case "cancel", "refuse":
		e.Kind = EventCollectiveBookingCancelled
		if b.CancellationReason != nil {
			e.Reason = string(*b.CancellationReason)
		}
	case "uncancel":
		e.Kind = EventCollectiveBookingUncancelled
	default:
		return nil
	}
	return c.Deliver(ctx, e)
}
