package crm

import (
	"context"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/talenthub/internal/apperr"
	"github.com/MarcoPoloResearchLab/talenthub/internal/notifications"
)

const (
	opCreateConsultant = "crm.create_consultant"
	opUpdateConsultant = "crm.update_consultant"
)

// NewConsultant is the input of CreateConsultant.
type NewConsultant struct {
	Name         string        `json:"name" validate:"required,max=200"`
	CommercialID string        `json:"commercial_id" validate:"max=36"`
	Availability *Availability `json:"availability"`
}

// ConsultantPatch lists the mutable fields of a consultant. Nil fields are kept.
type ConsultantPatch struct {
	Name         *string       `json:"name" validate:"omitempty,min=1,max=200"`
	CommercialID *string       `json:"commercial_id" validate:"omitempty,max=36"`
	Availability *Availability `json:"availability"`
}

// CreateConsultant stores a consultant and notifies its commercial.
func (s *Service) CreateConsultant(ctx context.Context, actor Actor, input NewConsultant) (Consultant, error) {
	if err := s.validateInput(opCreateConsultant, input); err != nil {
		return Consultant{}, err
	}
	id, err := s.id(opCreateConsultant)
	if err != nil {
		return Consultant{}, err
	}
	consultant := Consultant{
		ID:           id,
		Name:         strings.TrimSpace(input.Name),
		CommercialID: strings.TrimSpace(input.CommercialID),
		Availability: normalizeAvailability(input.Availability),
	}

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	err = s.db.WithContext(opCtx).Create(&consultant).Error
	cancel()
	if err != nil {
		return Consultant{}, apperr.Unavailable(opCreateConsultant, reasonQueryFailed, err)
	}

	s.emit(ctx, opCreateConsultant, EventConsultantCreated, consultant)
	if consultant.CommercialID != "" {
		s.notify(ctx, opCreateConsultant, notifications.Event{
			Type:        notifications.TypeAssignment,
			Message:     fmt.Sprintf("%s a assigné %s à vous.", actor.Name, consultant.Name),
			EntityType:  entityConsultant,
			EntityID:    consultant.ID,
			RecipientID: consultant.CommercialID,
			ActorID:     actor.ID,
		})
	}
	return consultant, nil
}

// UpdateConsultant applies patch. A new commercial is told about the
// assignment; the commercial is told when the consultant becomes available.
func (s *Service) UpdateConsultant(ctx context.Context, actor Actor, id string, patch ConsultantPatch) (Consultant, error) {
	if err := s.validateInput(opUpdateConsultant, patch); err != nil {
		return Consultant{}, err
	}
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var existing Consultant
	if err := s.take(opCtx, opUpdateConsultant, &existing, id, ErrConsultantNotFound); err != nil {
		return Consultant{}, err
	}
	updated := existing
	if patch.Name != nil {
		updated.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.CommercialID != nil {
		updated.CommercialID = strings.TrimSpace(*patch.CommercialID)
	}
	if patch.Availability != nil {
		updated.Availability = normalizeAvailability(patch.Availability)
	}
	err := s.db.WithContext(opCtx).Model(&Consultant{}).Where("id = ?", id).Updates(map[string]interface{}{
		"name":                updated.Name,
		"commercial_id":       updated.CommercialID,
		"availability_status": updated.Availability.Status,
		"availability_date":   updated.Availability.Date,
		"updated_at":          s.now(),
	}).Error
	if err != nil {
		return Consultant{}, apperr.Unavailable(opUpdateConsultant, reasonQueryFailed, err)
	}
	if err := s.take(opCtx, opUpdateConsultant, &updated, id, ErrConsultantNotFound); err != nil {
		return Consultant{}, err
	}

	s.emit(ctx, opUpdateConsultant, EventConsultantUpdated, updated)
	if updated.CommercialID != "" && updated.CommercialID != existing.CommercialID {
		s.notify(ctx, opUpdateConsultant, notifications.Event{
			Type:        notifications.TypeAssignment,
			Message:     fmt.Sprintf("%s vous a assigné %s.", actor.Name, updated.Name),
			EntityType:  entityConsultant,
			EntityID:    updated.ID,
			RecipientID: updated.CommercialID,
			ActorID:     actor.ID,
		})
	}
	if patch.Availability != nil &&
		existing.Availability.Status != AvailabilityAvailable &&
		updated.Availability.Status == AvailabilityAvailable &&
		updated.CommercialID != "" {
		s.notify(ctx, opUpdateConsultant, notifications.Event{
			Type:        notifications.TypeAvailability,
			Message:     fmt.Sprintf("%s est de nouveau disponible.", updated.Name),
			EntityType:  entityConsultant,
			EntityID:    updated.ID,
			RecipientID: updated.CommercialID,
			ActorID:     actor.ID,
		})
	}
	return updated, nil
}

func normalizeAvailability(availability *Availability) Availability {
	if availability == nil || strings.TrimSpace(availability.Status) == "" {
		return Availability{Status: AvailabilityAvailable}
	}
	return Availability{Status: strings.TrimSpace(availability.Status), Date: availability.Date}
}
