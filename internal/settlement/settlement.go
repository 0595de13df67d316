// Package settlement tracks the execution schedules of committed matches.
package settlement

import (
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/ksred/klear-compensation/pkg/response"
)

type Service struct {
	db *Database
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// GetDB returns the service database for the schedule processor
func (s *Service) GetDB() *Database {
	return s.db
}

// GetMatchEvents returns the processor history of a match
func (s *Service) GetMatchEvents(matchID string) (*EventsResponse, error) {
	match, err := s.db.GetMatch(matchID)
	if err != nil {
		return nil, err
	}

	events, err := s.db.GetMatchEvents(matchID)
	if err != nil {
		return nil, err
	}

	return &EventsResponse{
		MatchID:     match.MatchID,
		MatchStatus: match.Status,
		Events:      events,
		Timestamp:   time.Now(),
	}, nil
}

type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// GetMatchEventsHandler handles GET requests for a match schedule history
// URL parameter: match_id
func (h *GinHandlers) GetMatchEventsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		events, err := h.service.GetMatchEvents(c.Param("match_id"))
		response.Handle(c, events, err)
	}
}
