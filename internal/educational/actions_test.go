package educational

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/passculture/pass-culture-core/internal/model"
)

func TestAllowedActions_CoversEveryOfferStatus(t *testing.T) {
	for _, status := range AllDisplayedStatuses {
		_, ok := offerActions[status]
		assert.True(t, ok, "no actions for %s", status)
	}
}

func TestAllowedActions(t *testing.T) {
	published := approvedOffer(stockDates{})
	assert.ElementsMatch(t, []Action{
		ActionEditDetails, ActionEditDates, ActionEditInstitution, ActionEditDiscount,
		ActionDuplicate, ActionArchive, ActionHide,
	}, AllowedActions(published, now))

	booked := approvedOffer(stockDates{}, bookingWith(model.CollectiveBookingStatusConfirmed))
	assert.ElementsMatch(t, []Action{ActionEditDiscount, ActionDuplicate, ActionCancel}, AllowedActions(booked, now))

	reimbursed := approvedOffer(stockDates{}, bookingWith(model.CollectiveBookingStatusReimbursed))
	assert.Equal(t, []Action{ActionDuplicate}, AllowedActions(reimbursed, now))
}

func TestAllowedActions_EndedOfferLocksAfter48Hours(t *testing.T) {
	recent := approvedOffer(stockDates{limitPassed: true, startPassed: true, endPassed: true},
		bookingWith(model.CollectiveBookingStatusUsed))
	assert.ElementsMatch(t, []Action{ActionEditDiscount, ActionDuplicate, ActionCancel}, AllowedActions(recent, now))

	old := approvedOffer(stockDates{limitPassed: true, startPassed: true, endPassed: true},
		bookingWith(model.CollectiveBookingStatusUsed))
	old.Stock.EndDatetime = now.Add(-49 * time.Hour)
	assert.Equal(t, []Action{ActionDuplicate}, AllowedActions(old, now))
}

func TestAllowedActions_PublicAPIOffer(t *testing.T) {
	prebooked := approvedOffer(stockDates{}, bookingWith(model.CollectiveBookingStatusPending))
	prebooked.ProviderID = ptr(int64(42))

	assert.ElementsMatch(t, []Action{ActionDuplicate, ActionCancel}, AllowedActions(prebooked, now))
	assert.ElementsMatch(t, []Action{
		ActionEditDates, ActionEditInstitution, ActionEditDiscount, ActionCancel,
	}, PublicAPIAllowedActions(prebooked, now))
}

func TestPublicAPIAllowedActions_EmptyForPartnerOffers(t *testing.T) {
	o := approvedOffer(stockDates{})
	assert.Empty(t, PublicAPIAllowedActions(o, now))
	assert.NotNil(t, PublicAPIAllowedActions(o, now))
}

func TestTemplateAllowedActions(t *testing.T) {
	published := &model.CollectiveOfferTemplate{Validation: model.OfferValidationApproved, IsActive: true}
	assert.Contains(t, TemplateAllowedActions(published, now), ActionCreateBookableOffer)
	assert.Contains(t, TemplateAllowedActions(published, now), ActionHide)

	hidden := &model.CollectiveOfferTemplate{Validation: model.OfferValidationApproved}
	assert.Contains(t, TemplateAllowedActions(hidden, now), ActionPublish)
	assert.NotContains(t, TemplateAllowedActions(hidden, now), ActionCreateBookableOffer)

	archived := &model.CollectiveOfferTemplate{Validation: model.OfferValidationApproved, DateArchived: ptr(now)}
	assert.Empty(t, TemplateAllowedActions(archived, now))
}
