package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/passculture/pass-culture-core/internal/deposit"
	"github.com/passculture/pass-culture-core/internal/educational"
	"github.com/passculture/pass-culture-core/internal/finance"
	"github.com/passculture/pass-culture-core/internal/middleware"
	"github.com/passculture/pass-culture-core/internal/model"
	"github.com/passculture/pass-culture-core/internal/repository"
)

type mockDeposits struct {
	mock.Mock
}

func (m *mockDeposits) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *mockDeposits) UpsertDeposit(ctx context.Context, userID int64, source string, eligibility deposit.Eligibility, ageAtRegistration *int) (*model.Deposit, error) {
	args := m.Called(ctx, userID, source, eligibility, ageAtRegistration)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Deposit), args.Error(1)
}

type mockPricing struct {
	mock.Mock
}

func (m *mockPricing) PriceBookingByID(ctx context.Context, bookingID int64) (*model.Pricing, error) {
	args := m.Called(ctx, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Pricing), args.Error(1)
}

func (m *mockPricing) CancelPricing(ctx context.Context, bookingID int64, reason model.PricingLogReason) (*model.Pricing, error) {
	args := m.Called(ctx, bookingID, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Pricing), args.Error(1)
}

func (m *mockPricing) PricingHistory(ctx context.Context, bookingID int64) (*finance.History, error) {
	args := m.Called(ctx, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*finance.History), args.Error(1)
}

type mockCollective struct {
	mock.Mock
}

func (m *mockCollective) OfferStatus(ctx context.Context, offerID int64) (*educational.OfferView, error) {
	args := m.Called(ctx, offerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*educational.OfferView), args.Error(1)
}

func (m *mockCollective) TemplateStatus(ctx context.Context, templateID int64) (*educational.TemplateView, error) {
	args := m.Called(ctx, templateID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*educational.TemplateView), args.Error(1)
}

func (m *mockCollective) booking(args mock.Arguments) (*model.CollectiveBooking, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CollectiveBooking), args.Error(1)
}

func (m *mockCollective) ConfirmBooking(ctx context.Context, bookingID int64) (*model.CollectiveBooking, error) {
	return m.booking(m.Called(ctx, bookingID))
}

func (m *mockCollective) CancelBooking(ctx context.Context, bookingID int64, reason model.CollectiveBookingCancellationReason, userID *int64, cancelEvenIfUsed, cancelEvenIfReimbursed bool) (*model.CollectiveBooking, error) {
	return m.booking(m.Called(ctx, bookingID, reason, userID, cancelEvenIfUsed, cancelEvenIfReimbursed))
}

func (m *mockCollective) UncancelBooking(ctx context.Context, bookingID int64) (*model.CollectiveBooking, error) {
	return m.booking(m.Called(ctx, bookingID))
}

func (m *mockCollective) RefuseBooking(ctx context.Context, bookingID int64, userID *int64) (*model.CollectiveBooking, error) {
	return m.booking(m.Called(ctx, bookingID, userID))
}

var (
	_ DepositService    = (*mockDeposits)(nil)
	_ PricingService    = (*mockPricing)(nil)
	_ CollectiveService = (*mockCollective)(nil)
)

type testServer struct {
	deposits   *mockDeposits
	pricing    *mockPricing
	collective *mockCollective
	auth       *middleware.AuthMiddleware
	router     http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	auth, err := middleware.NewAuthMiddleware("test-secret")
	require.NoError(t, err)
	s := &testServer{
		deposits:   &mockDeposits{},
		pricing:    &mockPricing{},
		collective: &mockCollective{},
		auth:       auth,
	}
	h := NewHandler(s.deposits, s.pricing, s.collective, zap.NewNop(), s.auth)
	s.router = h.SetupRouter()

	t.Cleanup(func() {
		s.deposits.AssertExpectations(t)
		s.pricing.AssertExpectations(t)
		s.collective.AssertExpectations(t)
	})
	return s
}

func (s *testServer) do(method, path string, body any) *http.Response {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+s.auth.Token(7))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec.Result()
}

func TestAPI_RequiresToken(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/collective/offers/1", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetDeposit(t *testing.T) {
	s := newTestServer(t)
	expires := time.Now().Add(24 * time.Hour)
	user := &model.User{ID: 3, Deposits: []model.Deposit{{
		ID: 11, Type: model.DepositTypeGrant15To17, Amount: decimal.NewFromInt(50), ExpirationDate: &expires,
		Recredits: []model.Recredit{{Type: model.RecreditType16, Amount: decimal.NewFromInt(30)}},
	}}}
	s.deposits.On("GetUser", mock.Anything, int64(3)).Return(user, nil)

	res := s.do(http.MethodGet, "/api/users/3/deposit", nil)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "application/json", res.Header.Get("Content-Type"))

	var got depositResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
	assert.Equal(t, int64(11), got.ID)
	assert.True(t, decimal.NewFromInt(50).Equal(got.Amount))
	require.Len(t, got.Recredits, 1)
	assert.Equal(t, model.RecreditType16, got.Recredits[0].Type)
}

func TestGetDeposit_NoActiveDeposit(t *testing.T) {
	s := newTestServer(t)
	s.deposits.On("GetUser", mock.Anything, int64(3)).Return(&model.User{ID: 3}, nil)

	res := s.do(http.MethodGet, "/api/users/3/deposit", nil)
	defer res.Body.Close()
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
}

func TestUpsertDeposit(t *testing.T) {
	s := newTestServer(t)
	age := 15
	s.deposits.On("UpsertDeposit", mock.Anything, int64(3), "educonnect", deposit.EligibilityUnderage, &age).
		Return(&model.Deposit{ID: 12, Type: model.DepositTypeGrant15To17, Amount: decimal.NewFromInt(20)}, nil)

	res := s.do(http.MethodPost, "/api/users/3/deposit", upsertDepositRequest{
		Source: "educonnect", Eligibility: "UNDERAGE", AgeAtRegistration: &age,
	})
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestUpsertDeposit_Validation(t *testing.T) {
	s := newTestServer(t)

	res := s.do(http.MethodPost, "/api/users/3/deposit", upsertDepositRequest{Source: "x", Eligibility: "AGE99"})
	defer res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res = s.do(http.MethodPost, "/api/users/abc/deposit", upsertDepositRequest{Source: "x", Eligibility: "AGE18"})
	defer res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestUpsertDeposit_CannotBeRecredited(t *testing.T) {
	s := newTestServer(t)
	s.deposits.On("UpsertDeposit", mock.Anything, int64(3), "ubble", deposit.EligibilityAge18, (*int)(nil)).
		Return(nil, fmt.Errorf("upsert: %w", deposit.ErrUserCannotBeRecredited))

	res := s.do(http.MethodPost, "/api/users/3/deposit", upsertDepositRequest{Source: "ubble", Eligibility: "AGE18"})
	defer res.Body.Close()
	assert.Equal(t, http.StatusConflict, res.StatusCode)
}

func TestPriceBooking(t *testing.T) {
	s := newTestServer(t)
	s.pricing.On("PriceBookingByID", mock.Anything, int64(5)).Return(&model.Pricing{
		ID: 1, BookingID: 5, Status: model.PricingStatusValidated, Amount: -1000, Revenue: 1000,
		Lines: []model.PricingLine{
			{Category: model.PricingLineOffererRevenue, Amount: -1000},
			{Category: model.PricingLineOffererContribution, Amount: 0},
		},
	}, nil)
	s.pricing.On("PriceBookingByID", mock.Anything, int64(6)).Return(nil, nil)

	res := s.do(http.MethodPost, "/api/bookings/5/pricing", nil)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	var got pricingResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
	assert.Equal(t, int64(-1000), got.Amount)
	assert.Len(t, got.Lines, 2)

	res = s.do(http.MethodPost, "/api/bookings/6/pricing", nil)
	defer res.Body.Close()
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
}

func TestCancelPricing(t *testing.T) {
	s := newTestServer(t)
	s.pricing.On("CancelPricing", mock.Anything, int64(5), model.PricingLogReasonMarkingAsUnused).
		Return(nil, finance.ErrNonCancellablePricing)

	res := s.do(http.MethodPost, "/api/bookings/5/pricing/cancel", cancelPricingRequest{Reason: "marking as unused"})
	defer res.Body.Close()
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	res = s.do(http.MethodPost, "/api/bookings/5/pricing/cancel", cancelPricingRequest{Reason: "because"})
	defer res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestGetPricingHistory(t *testing.T) {
	s := newTestServer(t)
	s.pricing.On("PricingHistory", mock.Anything, int64(5)).Return(&finance.History{
		Pricings: []model.Pricing{
			{ID: 1, BookingID: 5, Status: model.PricingStatusCancelled, Amount: -1000},
			{ID: 3, BookingID: 5, Status: model.PricingStatusValidated, Amount: -1000},
		},
		Logs: []model.PricingLog{{
			ID: 2, PricingID: 1, StatusBefore: model.PricingStatusValidated, StatusAfter: model.PricingStatusCancelled,
			Reason: model.PricingLogReasonChangeAmount,
		}},
	}, nil)
	s.pricing.On("PricingHistory", mock.Anything, int64(6)).Return(nil, repository.ErrNotFound)

	res := s.do(http.MethodGet, "/api/bookings/5/pricings", nil)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	var got pricingHistoryResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
	require.Len(t, got.Pricings, 2)
	assert.Equal(t, model.PricingStatusCancelled, got.Pricings[0].Status)
	require.Len(t, got.Logs, 1)
	assert.Equal(t, model.PricingLogReasonChangeAmount, got.Logs[0].Reason)

	res = s.do(http.MethodGet, "/api/bookings/6/pricings", nil)
	defer res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestGetCollectiveOffer(t *testing.T) {
	s := newTestServer(t)
	s.collective.On("OfferStatus", mock.Anything, int64(1)).Return(&educational.OfferView{
		ID:                      1,
		DisplayedStatus:         educational.StatusBooked,
		AllowedActions:          []educational.Action{educational.ActionCancel},
		PublicAPIAllowedActions: []educational.Action{},
	}, nil)
	s.collective.On("OfferStatus", mock.Anything, int64(2)).Return(nil, repository.ErrNotFound)

	res := s.do(http.MethodGet, "/api/collective/offers/1", nil)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var got map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
	assert.Equal(t, "BOOKED", got["displayedStatus"])
	assert.Equal(t, []any{"CAN_CANCEL"}, got["allowedActions"])

	res = s.do(http.MethodGet, "/api/collective/offers/2", nil)
	defer res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestCollectiveBookingTransitions(t *testing.T) {
	userID := int64(7)
	tests := []struct {
		name   string
		path   string
		body   any
		setup  func(m *mockCollective)
		status int
	}{
		{
			name: "confirm",
			path: "/api/collective/bookings/9/confirm",
			setup: func(m *mockCollective) {
				m.On("ConfirmBooking", mock.Anything, int64(9)).
					Return(&model.CollectiveBooking{ID: 9, Status: model.CollectiveBookingStatusConfirmed}, nil)
			},
			status: http.StatusOK,
		},
		{
			name: "confirm without fund",
			path: "/api/collective/bookings/9/confirm",
			setup: func(m *mockCollective) {
				m.On("ConfirmBooking", mock.Anything, int64(9)).Return(nil, educational.ErrInsufficientTemporaryFund)
			},
			status: http.StatusPaymentRequired,
		},
		{
			name: "cancel already cancelled",
			path: "/api/collective/bookings/9/cancel",
			body: cancelBookingRequest{Reason: "OFFERER"},
			setup: func(m *mockCollective) {
				m.On("CancelBooking", mock.Anything, int64(9), model.CancellationReasonOfferer, &userID, false, false).
					Return(nil, educational.ErrCollectiveBookingAlreadyCancelled)
			},
			status: http.StatusConflict,
		},
		{
			name:   "cancel with unknown reason",
			path:   "/api/collective/bookings/9/cancel",
			body:   cancelBookingRequest{Reason: "BORED"},
			setup:  func(*mockCollective) {},
			status: http.StatusBadRequest,
		},
		{
			name: "uncancel",
			path: "/api/collective/bookings/9/uncancel",
			setup: func(m *mockCollective) {
				m.On("UncancelBooking", mock.Anything, int64(9)).
					Return(&model.CollectiveBooking{ID: 9, Status: model.CollectiveBookingStatusPending}, nil)
			},
			status: http.StatusOK,
		},
		{
			name: "refuse",
			path: "/api/collective/bookings/9/refuse",
			setup: func(m *mockCollective) {
				m.On("RefuseBooking", mock.Anything, int64(9), &userID).
					Return(&model.CollectiveBooking{ID: 9, Status: model.CollectiveBookingStatusCancelled}, nil)
			},
			status: http.StatusOK,
		},
		{
			name: "internal error",
			path: "/api/collective/bookings/9/uncancel",
			setup: func(m *mockCollective) {
				m.On("UncancelBooking", mock.Anything, int64(9)).Return(nil, context.DeadlineExceeded)
			},
			status: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			tt.setup(s.collective)

			res := s.do(http.MethodPost, tt.path, tt.body)
			defer res.Body.Close()
			assert.Equal(t, tt.status, res.StatusCode)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
