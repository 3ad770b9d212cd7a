package crm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/talenthub/internal/apperr"
	"github.com/MarcoPoloResearchLab/talenthub/internal/notifications"
	"gorm.io/gorm"
)

const (
	opCreateActivity = "crm.create_activity"
	opUpdateActivity = "crm.update_activity"
	opDeleteActivity = "crm.delete_activity"
)

// NewActivity is the input of CreateActivity.
type NewActivity struct {
	Type           string     `json:"type" validate:"required,max=32"`
	Content        string     `json:"content"`
	ConsultantID   string     `json:"consultant_id" validate:"max=36"`
	ConsultantName string     `json:"consultant_name" validate:"max=200"`
	ClientID       string     `json:"client_id" validate:"max=36"`
	ClientName     string     `json:"client_name" validate:"max=200"`
	AssigneeID     string     `json:"assignee_id" validate:"max=36"`
	Status         string     `json:"status" validate:"omitempty,max=32"`
	Timestamp      *time.Time `json:"timestamp"`
}

// ActivityPatch lists the mutable fields of an activity. Nil fields are kept.
type ActivityPatch struct {
	Content *string `json:"content"`
	Status  *string `json:"status" validate:"omitempty,min=1,max=32"`
}

// CreateActivity records an activity, touches the related consultant or client
// and notifies the accounts following them.
func (s *Service) CreateActivity(ctx context.Context, actor Actor, input NewActivity) (Activity, error) {
	if err := s.validateInput(opCreateActivity, input); err != nil {
		return Activity{}, err
	}
	id, err := s.id(opCreateActivity)
	if err != nil {
		return Activity{}, err
	}
	now := s.now()
	activity := Activity{
		ID:             id,
		Type:           strings.ToLower(strings.TrimSpace(input.Type)),
		ActorID:        actor.ID,
		ActorName:      actor.Name,
		Content:        input.Content,
		ConsultantID:   strings.TrimSpace(input.ConsultantID),
		ConsultantName: input.ConsultantName,
		ClientID:       strings.TrimSpace(input.ClientID),
		ClientName:     input.ClientName,
		AssigneeID:     strings.TrimSpace(input.AssigneeID),
		Status:         input.Status,
		Timestamp:      now,
	}
	if activity.Status == "" {
		activity.Status = ActivityStatusPending
	}
	if input.Timestamp != nil {
		activity.Timestamp = input.Timestamp.UTC()
	}

	var (
		consultant *Consultant
		client     *Client
	)
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	err = s.db.WithContext(opCtx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&activity).Error; err != nil {
			return err
		}
		if activity.ConsultantID != "" {
			found, err := touch[Consultant](tx, activity.ConsultantID, now)
			if err != nil {
				return err
			}
			consultant = found
		}
		if activity.ClientID != "" {
			found, err := touch[Client](tx, activity.ClientID, now)
			if err != nil {
				return err
			}
			client = found
		}
		return nil
	})
	cancel()
	if err != nil {
		return Activity{}, apperr.Unavailable(opCreateActivity, reasonQueryFailed, err)
	}

	s.emit(ctx, opCreateActivity, EventActivityCreated, activity)
	s.notifyAll(ctx, opCreateActivity, activityNotifications(actor, activity, consultant, client))
	return activity, nil
}

// UpdateActivity applies patch and emits the updated record.
func (s *Service) UpdateActivity(ctx context.Context, id string, patch ActivityPatch) (Activity, error) {
	if err := s.validateInput(opUpdateActivity, patch); err != nil {
		return Activity{}, err
	}
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var activity Activity
	if err := s.take(opCtx, opUpdateActivity, &activity, id, ErrActivityNotFound); err != nil {
		return Activity{}, err
	}
	updates := map[string]interface{}{}
	if patch.Content != nil {
		activity.Content = *patch.Content
		updates["content"] = activity.Content
	}
	if patch.Status != nil {
		activity.Status = *patch.Status
		updates["status"] = activity.Status
	}
	if len(updates) > 0 {
		if err := s.db.WithContext(opCtx).Model(&Activity{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return Activity{}, apperr.Unavailable(opUpdateActivity, reasonQueryFailed, err)
		}
	}

	s.emit(ctx, opUpdateActivity, EventActivityUpdated, activity)
	return activity, nil
}

// DeleteActivity removes the activity and emits its last state.
func (s *Service) DeleteActivity(ctx context.Context, id string) error {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var activity Activity
	if err := s.take(opCtx, opDeleteActivity, &activity, id, ErrActivityNotFound); err != nil {
		return err
	}
	if err := s.db.WithContext(opCtx).Where("id = ?", id).Delete(&Activity{}).Error; err != nil {
		return apperr.Unavailable(opDeleteActivity, reasonQueryFailed, err)
	}

	s.emit(ctx, opDeleteActivity, EventActivityDeleted, activity)
	return nil
}

type lastActivityTarget interface {
	Consultant | Client
}

// touch stamps last_activity and returns the record, or nil when it does not exist.
func touch[T lastActivityTarget](tx *gorm.DB, id string, at time.Time) (*T, error) {
	var record T
	result := tx.Where("id = ?", id).Limit(1).Find(&record)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	if err := tx.Model(&record).Where("id = ?", id).Update("last_activity", at).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func notificationTypeFor(activityType string) notifications.Type {
	switch activityType {
	case ActivityCall:
		return notifications.TypeCall
	case ActivityEmail:
		return notifications.TypeEmail
	default:
		return notifications.TypeComment
	}
}

func activityNotifications(actor Actor, activity Activity, consultant *Consultant, client *Client) []notifications.Event {
	var events []notifications.Event
	if consultant != nil && consultant.CommercialID != "" {
		events = append(events, notifications.Event{
			Type:        notificationTypeFor(activity.Type),
			Message:     fmt.Sprintf("%s a ajouté une interaction (%s) sur %s.", actor.Name, activity.Type, consultant.Name),
			EntityType:  entityConsultant,
			EntityID:    consultant.ID,
			RecipientID: consultant.CommercialID,
			ActorID:     actor.ID,
		})
	}
	if client != nil {
		for _, commercialID := range client.CommercialIDs() {
			events = append(events, notifications.Event{
				Type:        notifications.TypeComment,
				Message:     fmt.Sprintf("%s a ajouté une interaction sur le client %s.", actor.Name, client.Name),
				EntityType:  entityClient,
				EntityID:    client.ID,
				RecipientID: commercialID,
				ActorID:     actor.ID,
			})
		}
	}
	if activity.Type == ActivityTodo && activity.AssigneeID != "" {
		entityType, entityID, entityName := entityClient, activity.ClientID, activity.ClientName
		if activity.ConsultantID != "" {
			entityType, entityID, entityName = entityConsultant, activity.ConsultantID, activity.ConsultantName
		}
		events = append(events, notifications.Event{
			Type:        notifications.TypeTodo,
			Message:     fmt.Sprintf("%s vous a assigné une tâche concernant %s.", actor.Name, entityName),
			EntityType:  entityType,
			EntityID:    entityID,
			RecipientID: activity.AssigneeID,
			ActorID:     actor.ID,
		})
	}
	return events
}
