package registry

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ksred/klear-compensation/internal/types"
	"github.com/ksred/klear-compensation/pkg/response"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&ParticipantRecord{}, &CreditRecord{}, &DebitRecord{}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func sampleParticipant(id string) *types.Participant {
	maturity := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
	return &types.Participant{
		ID:          id,
		EntityRef:   "00.000.000/0001-" + id,
		RiskTier:    types.RiskMedium,
		Reliability: 80,
		Credits: []types.Credit{{
			ID:           id + "-C1",
			Type:         types.InstrumentICMS,
			Value:        5000,
			MaturityDate: maturity,
			Status:       types.CreditAvailable,
			Liquidity:    70,
			Collateral:   []string{"guarantee-1"},
		}},
		Debits: []types.Debit{{
			ID:       id + "-D1",
			Type:     types.InstrumentIPI,
			Amount:   2000,
			DueDate:  maturity,
			Status:   types.DebitPending,
			Priority: types.PriorityHigh,
		}},
	}
}

func TestService_RegisterParticipant(t *testing.T) {
	svc := NewService(setupTestDB(t))

	saved, err := svc.RegisterParticipant(sampleParticipant("P1"))
	require.NoError(t, err)
	assert.Equal(t, types.RoleBoth, saved.Role)

	got, err := svc.GetParticipant("P1")
	require.NoError(t, err)
	assert.Equal(t, 3000.0, got.NetBalance())
	require.Len(t, got.Credits, 1)
	assert.Equal(t, []string{"guarantee-1"}, got.Credits[0].Collateral)
	assert.True(t, got.Credits[0].MaturityDate.Equal(time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)))

	// re-registering replaces the holdings
	p := sampleParticipant("P1")
	p.Debits = nil
	_, err = svc.RegisterParticipant(p)
	require.NoError(t, err)

	got, err = svc.GetParticipant("P1")
	require.NoError(t, err)
	assert.Empty(t, got.Debits)
	assert.Equal(t, types.RoleCreditor, got.Role)
}

func TestService_RegisterParticipantInvalid(t *testing.T) {
	svc := NewService(setupTestDB(t))

	tests := []struct {
		name string
		mod  func(*types.Participant)
	}{
		{"MissingID", func(p *types.Participant) { p.ID = "" }},
		{"UnknownRisk", func(p *types.Participant) { p.RiskTier = "SEVERE" }},
		{"UnknownRole", func(p *types.Participant) { p.Role = "BROKER" }},
		{"DuplicateHolding", func(p *types.Participant) { p.Debits[0].ID = p.Credits[0].ID }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := sampleParticipant("P1")
			tt.mod(p)
			_, err := svc.RegisterParticipant(p)
			assert.ErrorIs(t, err, response.ErrInvalidInput)
		})
	}
}

func TestService_ListParticipants(t *testing.T) {
	svc := NewService(setupTestDB(t))
	for _, id := range []string{"B", "A", "C"} {
		_, err := svc.RegisterParticipant(sampleParticipant(id))
		require.NoError(t, err)
	}

	all, err := svc.ListParticipants()
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "A", all[0].ID)

	some, err := svc.ListParticipants("C", "A")
	require.NoError(t, err)
	assert.Len(t, some, 2)

	_, err = svc.ListParticipants("A", "Z")
	assert.ErrorIs(t, err, response.ErrInvalidInput)
}

func TestService_DeleteParticipant(t *testing.T) {
	svc := NewService(setupTestDB(t))
	_, err := svc.RegisterParticipant(sampleParticipant("P1"))
	require.NoError(t, err)

	require.NoError(t, svc.DeleteParticipant("P1"))
	_, err = svc.GetParticipant("P1")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	assert.ErrorIs(t, svc.DeleteParticipant("P1"), gorm.ErrRecordNotFound)

	// the id can be registered again after deletion
	_, err = svc.RegisterParticipant(sampleParticipant("P1"))
	assert.NoError(t, err)
}

func TestGinHandlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handlers := NewGinHandlers(NewService(setupTestDB(t)))

	router := gin.New()
	router.POST("/participants", handlers.RegisterParticipantHandler())
	router.GET("/participants", handlers.ListParticipantsHandler())
	router.GET("/participants/:participant_id", handlers.GetParticipantHandler())

	body, err := json.Marshal(sampleParticipant("P1"))
	require.NoError(t, err)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/participants", strings.NewReader(string(body))))
	assert.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/participants/P1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool              `json:"success"`
		Data    types.Participant `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "P1", resp.Data.ID)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/participants/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/participants", strings.NewReader(`{"id":""}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/participants?id=P1&id=nope", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
