// Package handler содержит HTTP-обработчики ядра: чтение вычисляемых свойств и вызов движков.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/passculture/pass-culture-core/internal/deposit"
	"github.com/passculture/pass-culture-core/internal/educational"
	"github.com/passculture/pass-culture-core/internal/finance"
	"github.com/passculture/pass-culture-core/internal/middleware"
	"github.com/passculture/pass-culture-core/internal/model"
	"github.com/passculture/pass-culture-core/internal/repository"
)

// DepositService - операции с депозитами бенефициаров.
type DepositService interface {
	GetUser(ctx context.Context, userID int64) (*model.User, error)
	UpsertDeposit(ctx context.Context, userID int64, source string, eligibility deposit.Eligibility, ageAtRegistration *int) (*model.Deposit, error)
}

// PricingService - операции с расчётами возмещений.
type PricingService interface {
	PriceBookingByID(ctx context.Context, bookingID int64) (*model.Pricing, error)
	CancelPricing(ctx context.Context, bookingID int64, reason model.PricingLogReason) (*model.Pricing, error)
	PricingHistory(ctx context.Context, bookingID int64) (*finance.History, error)
}

// CollectiveService - операции с образовательными предложениями и бронированиями.
type CollectiveService interface {
	OfferStatus(ctx context.Context, offerID int64) (*educational.OfferView, error)
	TemplateStatus(ctx context.Context, templateID int64) (*educational.TemplateView, error)
	ConfirmBooking(ctx context.Context, bookingID int64) (*model.CollectiveBooking, error)
	CancelBooking(ctx context.Context, bookingID int64, reason model.CollectiveBookingCancellationReason, userID *int64, cancelEvenIfUsed, cancelEvenIfReimbursed bool) (*model.CollectiveBooking, error)
	UncancelBooking(ctx context.Context, bookingID int64) (*model.CollectiveBooking, error)
	RefuseBooking(ctx context.Context, bookingID int64, userID *int64) (*model.CollectiveBooking, error)
}

// Handler реализует HTTP-обработчики API.
type Handler struct {
	deposits       DepositService
	pricing        PricingService
	collective     CollectiveService
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	validate       *validator.Validate
	now            func() time.Time
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(deposits DepositService, pricing PricingService, collective CollectiveService, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		deposits:       deposits,
		pricing:        pricing,
		collective:     collective,
		logger:         logger,
		authMiddleware: auth,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		now:            time.Now,
	}
}

type upsertDepositRequest struct {
	Source            string `json:"source" validate:"required,max=300"`
	Eligibility       string `json:"eligibility" validate:"required,oneof=UNDERAGE AGE18 AGE17_18"`
	AgeAtRegistration *int   `json:"ageAtRegistration" validate:"omitempty,min=15,max=21"`
}

type cancelPricingRequest struct {
	Reason string `json:"reason" validate:"required,oneof='marking as unused' 'change amount' 'change date' backoffice"`
}

type cancelBookingRequest struct {
	Reason                 string `json:"reason" validate:"required,oneof=OFFERER EXPIRED FRAUD REFUSED_BY_INSTITUTE REFUSED_BY_HEADMASTER PUBLIC_API FINANCE_INCIDENT BACKOFFICE"`
	CancelEvenIfUsed       bool   `json:"cancelEvenIfUsed"`
	CancelEvenIfReimbursed bool   `json:"cancelEvenIfReimbursed"`
}

type recreditResponse struct {
	Type        model.RecreditType `json:"type"`
	Amount      decimal.Decimal    `json:"amount"`
	DateCreated time.Time          `json:"dateCreated"`
}

type depositResponse struct {
	ID             int64              `json:"id"`
	Type           model.DepositType  `json:"type"`
	Amount         decimal.Decimal    `json:"amount"`
	ExpirationDate *time.Time         `json:"expirationDate,omitempty"`
	Recredits      []recreditResponse `json:"recredits"`
}

type pricingLineResponse struct {
	Category model.PricingLineCategory `json:"category"`
	Amount   int64                     `json:"amount"`
}

type pricingResponse struct {
	ID           int64                 `json:"id"`
	BookingID    int64                 `json:"bookingId"`
	Status       model.PricingStatus   `json:"status"`
	Amount       int64                 `json:"amount"`
	Revenue      int64                 `json:"revenue"`
	ValueDate    time.Time             `json:"valueDate"`
	StandardRule string                `json:"standardRule,omitempty"`
	CustomRuleID *int64                `json:"customRuleId,omitempty"`
	Lines        []pricingLineResponse `json:"lines"`
}

type pricingLogResponse struct {
	PricingID    int64                  `json:"pricingId"`
	StatusBefore model.PricingStatus    `json:"statusBefore"`
	StatusAfter  model.PricingStatus    `json:"statusAfter"`
	Reason       model.PricingLogReason `json:"reason"`
	Timestamp    time.Time              `json:"timestamp"`
}

type pricingHistoryResponse struct {
	Pricings []pricingResponse    `json:"pricings"`
	Logs     []pricingLogResponse `json:"logs"`
}

type collectiveBookingResponse struct {
	ID                 int64                                      `json:"id"`
	Status             model.CollectiveBookingStatus              `json:"status"`
	ConfirmationDate   *time.Time                                 `json:"confirmationDate,omitempty"`
	CancellationDate   *time.Time                                 `json:"cancellationDate,omitempty"`
	CancellationReason *model.CollectiveBookingCancellationReason `json:"cancellationReason,omitempty"`
	DateUsed           *time.Time                                 `json:"dateUsed,omitempty"`
}

func toDepositResponse(d *model.Deposit) depositResponse {
	resp := depositResponse{
		ID:             d.ID,
		Type:           d.Type,
		Amount:         d.Amount,
		ExpirationDate: d.ExpirationDate,
		Recredits:      make([]recreditResponse, 0, len(d.Recredits)),
	}
	for _, r := range d.Recredits {
		resp.Recredits = append(resp.Recredits, recreditResponse{Type: r.Type, Amount: r.Amount, DateCreated: r.DateCreated})
	}
	return resp
}

func toPricingResponse(p *model.Pricing) pricingResponse {
	resp := pricingResponse{
		ID:           p.ID,
		BookingID:    p.BookingID,
		Status:       p.Status,
		Amount:       p.Amount,
		Revenue:      p.Revenue,
		ValueDate:    p.ValueDate,
		StandardRule: p.StandardRule,
		CustomRuleID: p.CustomRuleID,
		Lines:        make([]pricingLineResponse, 0, len(p.Lines)),
	}
	for _, l := range p.Lines {
		resp.Lines = append(resp.Lines, pricingLineResponse{Category: l.Category, Amount: l.Amount})
	}
	return resp
}

func toPricingHistoryResponse(h *finance.History) pricingHistoryResponse {
	resp := pricingHistoryResponse{
		Pricings: make([]pricingResponse, 0, len(h.Pricings)),
		Logs:     make([]pricingLogResponse, 0, len(h.Logs)),
	}
	for i := range h.Pricings {
		resp.Pricings = append(resp.Pricings, toPricingResponse(&h.Pricings[i]))
	}
	for _, l := range h.Logs {
		resp.Logs = append(resp.Logs, pricingLogResponse{
			PricingID: l.PricingID, StatusBefore: l.StatusBefore, StatusAfter: l.StatusAfter, Reason: l.Reason, Timestamp: l.Timestamp,
		})
	}
	return resp
}

func toCollectiveBookingResponse(b *model.CollectiveBooking) collectiveBookingResponse {
	return collectiveBookingResponse{
		ID:                 b.ID,
		Status:             b.Status,
		ConfirmationDate:   b.ConfirmationDate,
		CancellationDate:   b.CancellationDate,
		CancellationReason: b.CancellationReason,
		DateUsed:           b.DateUsed,
	}
}

// GetDeposit возвращает действующий депозит пользователя.
func (h *Handler) GetDeposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}

	user, err := h.deposits.GetUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, "get user", err)
		return
	}

	active := user.ActiveDeposit(h.now())
	if active == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, toDepositResponse(active))
}

// UpsertDeposit выдаёт или пополняет депозит пользователя.
func (h *Handler) UpsertDeposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}

	var req upsertDepositRequest
	if !h.decode(w, r, &req) {
		return
	}

	d, err := h.deposits.UpsertDeposit(r.Context(), userID, req.Source, deposit.Eligibility(req.Eligibility), req.AgeAtRegistration)
	if err != nil {
		h.writeError(w, "upsert deposit", err)
		return
	}
	writeJSON(w, http.StatusOK, toDepositResponse(d))
}

// PriceBooking рассчитывает возмещение по бронированию.
func (h *Handler) PriceBooking(w http.ResponseWriter, r *http.Request) {
	bookingID, ok := pathID(w, r, "bookingID")
	if !ok {
		return
	}

	p, err := h.pricing.PriceBookingByID(r.Context(), bookingID)
	if err != nil {
		h.writeError(w, "price booking", err)
		return
	}
	if p == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, toPricingResponse(p))
}

// CancelPricing отменяет расчёт бронирования вместе с зависимыми расчётами.
func (h *Handler) CancelPricing(w http.ResponseWriter, r *http.Request) {
	bookingID, ok := pathID(w, r, "bookingID")
	if !ok {
		return
	}

	var req cancelPricingRequest
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.pricing.CancelPricing(r.Context(), bookingID, model.PricingLogReason(req.Reason))
	if err != nil {
		h.writeError(w, "cancel pricing", err)
		return
	}
	if p == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, toPricingResponse(p))
}

// GetPricingHistory возвращает все расчёты бронирования и журнал их статусов.
func (h *Handler) GetPricingHistory(w http.ResponseWriter, r *http.Request) {
	bookingID, ok := pathID(w, r, "bookingID")
	if !ok {
		return
	}

	history, err := h.pricing.PricingHistory(r.Context(), bookingID)
	if err != nil {
		h.writeError(w, "pricing history", err)
		return
	}
	writeJSON(w, http.StatusOK, toPricingHistoryResponse(history))
}

// GetCollectiveOffer возвращает отображаемый статус и допустимые действия предложения.
func (h *Handler) GetCollectiveOffer(w http.ResponseWriter, r *http.Request) {
	offerID, ok := pathID(w, r, "offerID")
	if !ok {
		return
	}

	view, err := h.collective.OfferStatus(r.Context(), offerID)
	if err != nil {
		h.writeError(w, "get collective offer", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetCollectiveOfferTemplate возвращает отображаемый статус и допустимые действия шаблона.
func (h *Handler) GetCollectiveOfferTemplate(w http.ResponseWriter, r *http.Request) {
	templateID, ok := pathID(w, r, "templateID")
	if !ok {
		return
	}

	view, err := h.collective.TemplateStatus(r.Context(), templateID)
	if err != nil {
		h.writeError(w, "get collective offer template", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ConfirmCollectiveBooking подтверждает образовательное бронирование.
func (h *Handler) ConfirmCollectiveBooking(w http.ResponseWriter, r *http.Request) {
	h.collectiveTransition(w, r, "confirm collective booking", func(ctx context.Context, id int64) (*model.CollectiveBooking, error) {
		return h.collective.ConfirmBooking(ctx, id)
	})
}

// CancelCollectiveBooking отменяет образовательное бронирование.
func (h *Handler) CancelCollectiveBooking(w http.ResponseWriter, r *http.Request) {
	var req cancelBookingRequest
	if !h.decode(w, r, &req) {
		return
	}

	userID := currentUser(r)
	h.collectiveTransition(w, r, "cancel collective booking", func(ctx context.Context, id int64) (*model.CollectiveBooking, error) {
		return h.collective.CancelBooking(ctx, id, model.CollectiveBookingCancellationReason(req.Reason), userID,
			req.CancelEvenIfUsed, req.CancelEvenIfReimbursed)
	})
}

// UncancelCollectiveBooking восстанавливает отменённое образовательное бронирование.
func (h *Handler) UncancelCollectiveBooking(w http.ResponseWriter, r *http.Request) {
	h.collectiveTransition(w, r, "uncancel collective booking", func(ctx context.Context, id int64) (*model.CollectiveBooking, error) {
		return h.collective.UncancelBooking(ctx, id)
	})
}

// RefuseCollectiveBooking фиксирует отказ заведения от бронирования.
func (h *Handler) RefuseCollectiveBooking(w http.ResponseWriter, r *http.Request) {
	userID := currentUser(r)
	h.collectiveTransition(w, r, "refuse collective booking", func(ctx context.Context, id int64) (*model.CollectiveBooking, error) {
		return h.collective.RefuseBooking(ctx, id, userID)
	})
}

func (h *Handler) collectiveTransition(w http.ResponseWriter, r *http.Request, op string, fn func(ctx context.Context, id int64) (*model.CollectiveBooking, error)) {
	bookingID, ok := pathID(w, r, "bookingID")
	if !ok {
		return
	}

	b, err := fn(r.Context(), bookingID)
	if err != nil {
		h.writeError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, toCollectiveBookingResponse(b))
}

func currentUser(r *http.Request) *int64 {
	id, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		return nil
	}
	return &id
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor сопоставляет ошибки ядра HTTP-статусам.
func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, educational.ErrInsufficientFund),
		errors.Is(err, educational.ErrInsufficientTemporaryFund):
		return http.StatusPaymentRequired
	case errors.Is(err, educational.ErrCollectiveBookingAlreadyCancelled),
		errors.Is(err, educational.ErrCollectiveBookingIsAlreadyUsed),
		errors.Is(err, educational.ErrCollectiveBookingNotCancelled),
		errors.Is(err, educational.ErrConfirmationLimitDateHasPassed),
		errors.Is(err, educational.ErrInvalidTransition),
		errors.Is(err, deposit.ErrUserHasAlreadyActiveDeposit),
		errors.Is(err, deposit.ErrDepositTypeAlreadyGranted),
		errors.Is(err, deposit.ErrUserCannotBeRecredited),
		errors.Is(err, finance.ErrNonCancellablePricing):
		return http.StatusConflict
	case errors.Is(err, educational.ErrEducationalDepositNotFound),
		errors.Is(err, deposit.ErrUserNotGrantable),
		errors.Is(err, deposit.ErrUserHasNotFinishedSubscription),
		errors.Is(err, deposit.ErrInvalidAmount):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(op+" error", zap.Error(err))
		http.Error(w, http.StatusText(status), status)
		return
	}
	http.Error(w, err.Error(), status)
}
