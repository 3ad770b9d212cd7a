package crm

import (
	"context"
	"strings"

	"github.com/MarcoPoloResearchLab/talenthub/internal/apperr"
)

const (
	opCreateClient = "crm.create_client"
	opUpdateClient = "crm.update_client"
	opDeleteClient = "crm.delete_client"
)

// NewClient is the input of CreateClient.
type NewClient struct {
	Name        string       `json:"name" validate:"required,max=200"`
	Commercials []Commercial `json:"commercials" validate:"dive"`
}

// ClientPatch lists the mutable fields of a client. Nil fields are kept; an
// empty Commercials slice clears the assignment.
type ClientPatch struct {
	Name        *string       `json:"name" validate:"omitempty,min=1,max=200"`
	Commercials *[]Commercial `json:"commercials"`
}

func (s *Service) CreateClient(ctx context.Context, input NewClient) (Client, error) {
	if err := s.validateInput(opCreateClient, input); err != nil {
		return Client{}, err
	}
	id, err := s.id(opCreateClient)
	if err != nil {
		return Client{}, err
	}
	client := Client{
		ID:          id,
		Name:        strings.TrimSpace(input.Name),
		Commercials: normalizeCommercials(input.Commercials),
	}

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	err = s.db.WithContext(opCtx).Create(&client).Error
	cancel()
	if err != nil {
		return Client{}, apperr.Unavailable(opCreateClient, reasonQueryFailed, err)
	}

	s.emit(ctx, opCreateClient, EventClientCreated, client)
	return client, nil
}

func (s *Service) UpdateClient(ctx context.Context, id string, patch ClientPatch) (Client, error) {
	if err := s.validateInput(opUpdateClient, patch); err != nil {
		return Client{}, err
	}
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var client Client
	if err := s.take(opCtx, opUpdateClient, &client, id, ErrClientNotFound); err != nil {
		return Client{}, err
	}
	if patch.Name != nil {
		client.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Commercials != nil {
		client.Commercials = normalizeCommercials(*patch.Commercials)
	}
	client.UpdatedAt = s.now()
	if err := s.db.WithContext(opCtx).Select("name", "commercials", "updated_at").Save(&client).Error; err != nil {
		return Client{}, apperr.Unavailable(opUpdateClient, reasonQueryFailed, err)
	}

	s.emit(ctx, opUpdateClient, EventClientUpdated, client)
	return client, nil
}

func (s *Service) DeleteClient(ctx context.Context, id string) error {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var client Client
	if err := s.take(opCtx, opDeleteClient, &client, id, ErrClientNotFound); err != nil {
		return err
	}
	if err := s.db.WithContext(opCtx).Where("id = ?", id).Delete(&Client{}).Error; err != nil {
		return apperr.Unavailable(opDeleteClient, reasonQueryFailed, err)
	}

	s.emit(ctx, opDeleteClient, EventClientDeleted, client)
	return nil
}

func normalizeCommercials(commercials []Commercial) []Commercial {
	normalized := make([]Commercial, 0, len(commercials))
	seen := make(map[string]struct{}, len(commercials))
	for _, commercial := range commercials {
		id := strings.TrimSpace(commercial.ID)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		normalized = append(normalized, Commercial{ID: id, Name: strings.TrimSpace(commercial.Name)})
	}
	return normalized
}
