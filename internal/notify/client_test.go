package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passculture/pass-culture-core/internal/model"
)

func TestSend_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/events", r.URL.Path)

		var e Event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&e))
		assert.Equal(t, EventDepositRecredited, e.Kind)
		assert.Equal(t, int64(7), e.UserID)
		assert.Equal(t, "RECREDIT_16", e.Type)
		require.NotNil(t, e.Amount)
		assert.True(t, decimal.NewFromInt(30).Equal(*e.Amount))

		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := client.DepositRecredited(ctx, 7, model.Recredit{Type: model.RecreditType16, Amount: decimal.NewFromInt(30)})
	require.NoError(t, err)
}

func TestSend_TooManyRequests(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	code, retry, err := client.Send(ctx, Event{Kind: EventCollectiveBookingConfirmed, BookingID: 1})
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.GreaterOrEqual(t, retry, 5*time.Second)
}

func TestDeliver_RetriesAfterRateLimit(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	err := client.Deliver(context.Background(), Event{Kind: EventCollectiveBookingCancelled, BookingID: 1})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSend_UnexpectedStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	code, _, err := client.Send(context.Background(), Event{Kind: EventDepositRecredited})
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, code)
}

func TestCollectiveBookingChanged_Kinds(t *testing.T) {
	var got []Event
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var e Event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&e))
		got = append(got, e)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)
	reason := model.CancellationReasonOfferer
	b := model.CollectiveBooking{ID: 3, Status: model.CollectiveBookingStatusCancelled, CancellationReason: &reason}

	require.NoError(t, client.CollectiveBookingChanged(context.Background(), "cancel", b))
	require.NoError(t, client.CollectiveBookingChanged(context.Background(), "use", b))

	require.Len(t, got, 1)
	assert.Equal(t, EventCollectiveBookingCancelled, got[0].Kind)
	assert.Equal(t, "OFFERER", got[0].Reason)
}

func TestNilClientIsNoop(t *testing.T) {
	client := NewClient("")
	assert.Nil(t, client)
	assert.NoError(t, client.DepositRecredited(context.Background(), 1, model.Recredit{}))
}
