package main

import (
	"context"
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/klear-compensation/internal/database"
	"github.com/ksred/klear-compensation/internal/netting"
	"github.com/ksred/klear-compensation/internal/registry"
)

func TestLoadFixture(t *testing.T) {
	fx, err := loadFixture("testdata/triangle.json")
	require.NoError(t, err)
	assert.Len(t, fx.Participants, 3)
	// unspecified configuration fields keep their defaults
	assert.Equal(t, netting.DefaultConfiguration().Objectives, fx.Configuration.Objectives)
	assert.Equal(t, time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC), fx.Configuration.ReferenceDate)

	empty := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte(`{"participants":[]}`), 0o600))
	_, err = loadFixture(empty)
	assert.Error(t, err)

	_, err = loadFixture(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestDoOptimize(t *testing.T) {
	output := filepath.Join(t.TempDir(), "result.json")
	require.NoError(t, doOptimize(context.Background(), "testdata/triangle.json", output, 2))

	raw, err := os.ReadFile(output)
	require.NoError(t, err)

	var result netting.Result
	require.NoError(t, json.Unmarshal(raw, &result))
	require.Len(t, result.Matches, 1)
	assert.Equal(t, []string{"A", "B", "C"}, result.Matches[0].Participants)
}

func TestDoSeed(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "klear.db")
	require.NoError(t, doSeed("testdata/triangle.json", dbPath))
	// seeding twice replaces rather than duplicates
	require.NoError(t, doSeed("testdata/triangle.json", dbPath))

	db, err := database.NewDatabase(dbPath)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	defer sqlDB.Close()

	participants, err := registry.NewService(db).ListParticipants()
	require.NoError(t, err)
	require.Len(t, participants, 3)
	assert.Equal(t, -725000.0, participants[1].NetBalance())
}

func TestGenerateMarket(t *testing.T) {
	a := generateMarket(rand.New(rand.NewSource(7)), 50)
	b := generateMarket(rand.New(rand.NewSource(7)), 50)
	assert.Equal(t, a, b)

	result, err := netting.NewEngine(2).Optimize(context.Background(), a, netting.DefaultConfiguration())
	require.NoError(t, err)
	assert.Empty(t, result.Exclusions)
}

func TestRunStats(t *testing.T) {
	rs := &runStats{}
	for i := 1; i <= 100; i++ {
		rs.addDuration(time.Duration(101-i) * time.Millisecond)
	}

	min, max, mean, median, p95, p99 := rs.calculate()
	assert.Equal(t, time.Millisecond, min)
	assert.Equal(t, 100*time.Millisecond, max)
	assert.Equal(t, 50500*time.Microsecond, mean)
	assert.Equal(t, 51*time.Millisecond, median)
	assert.Equal(t, 95*time.Millisecond, p95)
	assert.Equal(t, 99*time.Millisecond, p99)
}
