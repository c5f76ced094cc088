package educational

import (
	"slices"
	"time"

	"github.com/passculture/pass-culture-core/internal/model"
)

// Action - действие с предложением, доступное в интерфейсе партнёра.
type Action string

const (
	ActionEditDetails         Action = "CAN_EDIT_DETAILS"
	ActionEditDates           Action = "CAN_EDIT_DATES"
	ActionEditInstitution     Action = "CAN_EDIT_INSTITUTION"
	ActionEditDiscount        Action = "CAN_EDIT_DISCOUNT"
	ActionDuplicate           Action = "CAN_DUPLICATE"
	ActionCancel              Action = "CAN_CANCEL"
	ActionArchive             Action = "CAN_ARCHIVE"
	ActionHide                Action = "CAN_HIDE"
	ActionPublish             Action = "CAN_PUBLISH"
	ActionCreateBookableOffer Action = "CAN_CREATE_BOOKABLE_OFFER"
)

// endedEditionDelay - после этого срока с конца мероприятия ENDED-предложение больше нельзя
// отменить или изменить скидку.
const endedEditionDelay = 48 * time.Hour

var offerActions = map[DisplayedStatus][]Action{
	StatusDraft: {
		ActionEditDetails, ActionEditDates, ActionEditInstitution, ActionEditDiscount,
		ActionDuplicate, ActionArchive,
	},
	StatusUnderReview: {ActionDuplicate, ActionArchive},
	StatusRejected:    {ActionDuplicate, ActionArchive},
	StatusPublished: {
		ActionEditDetails, ActionEditDates, ActionEditInstitution, ActionEditDiscount,
		ActionDuplicate, ActionArchive, ActionHide,
	},
	StatusHidden: {
		ActionEditDetails, ActionEditDates, ActionEditInstitution, ActionEditDiscount,
		ActionDuplicate, ActionArchive, ActionPublish,
	},
	StatusPrebooked: {
		ActionEditDates, ActionEditInstitution, ActionEditDiscount, ActionDuplicate, ActionCancel,
	},
	StatusBooked:     {ActionEditDiscount, ActionDuplicate, ActionCancel},
	StatusExpired:    {ActionDuplicate, ActionArchive},
	StatusEnded:      {ActionEditDiscount, ActionDuplicate, ActionCancel},
	StatusReimbursed: {ActionDuplicate},
	StatusCancelled:  {ActionDuplicate, ActionArchive},
	StatusArchived:   {ActionDuplicate},
}

var templateActions = map[DisplayedStatus][]Action{
	StatusDraft:       {ActionEditDetails, ActionArchive},
	StatusUnderReview: {ActionArchive},
	StatusRejected:    {ActionArchive},
	StatusPublished:   {ActionEditDetails, ActionArchive, ActionHide, ActionCreateBookableOffer},
	StatusHidden:      {ActionEditDetails, ActionArchive, ActionPublish},
	StatusEnded:       {ActionEditDetails, ActionArchive},
	StatusArchived:    {},
}

// Действия, которые интерфейс партнёра не выполняет над предложениями из публичного API:
// такими предложениями управляет только API.
var publicAPIOwnedActions = []Action{
	ActionEditDetails, ActionEditDates, ActionEditInstitution, ActionEditDiscount,
	ActionHide, ActionPublish,
}

// Действия, доступные через публичный API.
var publicAPIActions = []Action{
	ActionEditDetails, ActionEditDates, ActionEditInstitution, ActionEditDiscount, ActionCancel,
}

// statusActions возвращает действия по статусу с учётом правила 48 часов для ENDED.
func statusActions(o *model.CollectiveOffer, status DisplayedStatus, now time.Time) []Action {
	actions := slices.Clone(offerActions[status])
	if status == StatusEnded && o.Stock != nil && o.Stock.EndDatetime.Add(endedEditionDelay).Before(now) {
		actions = slices.DeleteFunc(actions, func(a Action) bool {
			return a == ActionEditDiscount || a == ActionCancel
		})
	}
	return actions
}

// AllowedActions возвращает действия, доступные партнёру в его интерфейсе.
func AllowedActions(o *model.CollectiveOffer, now time.Time) []Action {
	actions := statusActions(o, OfferDisplayedStatus(o, now), now)
	if o.IsFromPublicAPI() {
		actions = slices.DeleteFunc(actions, func(a Action) bool {
			return slices.Contains(publicAPIOwnedActions, a)
		})
	}
	return actions
}

// PublicAPIAllowedActions возвращает действия, доступные через публичный API. Для предложений,
// созданных в интерфейсе партнёра, список пуст.
func PublicAPIAllowedActions(o *model.CollectiveOffer, now time.Time) []Action {
	if !o.IsFromPublicAPI() {
		return []Action{}
	}
	actions := statusActions(o, OfferDisplayedStatus(o, now), now)
	return slices.DeleteFunc(actions, func(a Action) bool {
		return !slices.Contains(publicAPIActions, a)
	})
}

// TemplateAllowedActions возвращает действия для шаблона предложения.
func TemplateAllowedActions(t *model.CollectiveOfferTemplate, now time.Time) []Action {
	return slices.Clone(templateActions[TemplateDisplayedStatus(t, now)])
}
