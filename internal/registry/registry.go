// Package registry stores participants and their fiscal credits and debits.
package registry

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/ksred/klear-compensation/internal/types"
	"github.com/ksred/klear-compensation/pkg/response"
)

// Service handles participant registration and lookup
type Service struct {
	db *Database
}

// NewService creates a new registry service with the given database connection
func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// RegisterParticipant creates or replaces a participant with its credits and
// debits. Only structural problems are rejected here; value ranges are
// screened per optimization run so a single bad record never blocks a batch.
func (s *Service) RegisterParticipant(p *types.Participant) (*types.Participant, error) {
	logger := log.With().
		Str("participant_id", p.ID).
		Str("service", "registry").
		Logger()

	if err := validateParticipant(p); err != nil {
		logger.Warn().Err(err).Msg("rejected participant")
		return nil, err
	}
	if p.Role == "" {
		p.Role = inferRole(p)
	}

	record := newParticipantRecord(p)
	if err := s.db.SaveParticipant(record); err != nil {
		logger.Error().Err(err).Msg("failed to save participant")
		return nil, fmt.Errorf("failed to save participant: %w", err)
	}

	logger.Info().
		Int("credits", len(p.Credits)).
		Int("debits", len(p.Debits)).
		Float64("net_balance", p.NetBalance()).
		Msg("participant registered")

	saved := record.ToParticipant()
	return &saved, nil
}

func (s *Service) GetParticipant(participantID string) (*types.Participant, error) {
	record, err := s.db.GetParticipant(participantID)
	if err != nil {
		return nil, err
	}
	p := record.ToParticipant()
	return &p, nil
}

// ListParticipants returns the requested participants, or every registered
// participant when no ids are given. Unknown ids are an error.
func (s *Service) ListParticipants(ids ...string) ([]types.Participant, error) {
	records, err := s.db.ListParticipants(ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}

	if len(ids) > 0 {
		found := make(map[string]bool, len(records))
		for _, r := range records {
			found[r.ParticipantID] = true
		}
		for _, id := range ids {
			if !found[id] {
				return nil, fmt.Errorf("%w: unknown participant %s", response.ErrInvalidInput, id)
			}
		}
	}

	participants := make([]types.Participant, 0, len(records))
	for i := range records {
		participants = append(participants, records[i].ToParticipant())
	}
	return participants, nil
}

func (s *Service) DeleteParticipant(participantID string) error {
	return s.db.DeleteParticipant(participantID)
}

func validateParticipant(p *types.Participant) error {
	if p.ID == "" {
		return fmt.Errorf("%w: participant id is required", response.ErrInvalidInput)
	}
	if !p.RiskTier.Valid() {
		return fmt.Errorf("%w: unknown risk tier %q", response.ErrInvalidInput, p.RiskTier)
	}
	switch p.Role {
	case "", types.RoleCreditor, types.RoleDebtor, types.RoleBoth:
	default:
		return fmt.Errorf("%w: unknown role %q", response.ErrInvalidInput, p.Role)
	}

	ids := make(map[string]bool, len(p.Credits)+len(p.Debits))
	for _, c := range p.Credits {
		if c.ID == "" || ids[c.ID] {
			return fmt.Errorf("%w: credit ids must be present and unique", response.ErrInvalidInput)
		}
		ids[c.ID] = true
	}
	for _, d := range p.Debits {
		if d.ID == "" || ids[d.ID] {
			return fmt.Errorf("%w: debit ids must be present and unique", response.ErrInvalidInput)
		}
		ids[d.ID] = true
	}
	return nil
}

func inferRole(p *types.Participant) types.Role {
	switch {
	case len(p.Credits) > 0 && len(p.Debits) > 0:
		return types.RoleBoth
	case len(p.Debits) > 0:
		return types.RoleDebtor
	default:
		return types.RoleCreditor
	}
}

// GinHandlers contains HTTP handlers for participant endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for participant endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// RegisterParticipantHandler handles POST requests to create or replace a participant
func (h *GinHandlers) RegisterParticipantHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var p types.Participant
		if err := c.ShouldBindJSON(&p); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		saved, err := h.service.RegisterParticipant(&p)
		response.Handle(c, saved, err)
	}
}

// GetParticipantHandler handles GET requests for a single participant
// URL parameter: participant_id
func (h *GinHandlers) GetParticipantHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := h.service.GetParticipant(c.Param("participant_id"))
		response.Handle(c, p, err)
	}
}

// ListParticipantsHandler handles GET requests listing participants
// Optional query parameter: id (repeatable)
func (h *GinHandlers) ListParticipantsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		participants, err := h.service.ListParticipants(c.QueryArray("id")...)
		response.Handle(c, participants, err)
	}
}

// DeleteParticipantHandler handles DELETE requests for a participant
func (h *GinHandlers) DeleteParticipantHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		participantID := c.Param("participant_id")
		err := h.service.DeleteParticipant(participantID)
		response.Handle(c, gin.H{"participant_id": participantID, "deleted": true}, err)
	}
}
