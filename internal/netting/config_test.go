package netting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/klear-compensation/internal/types"
)

func TestConfiguration_Validate(t *testing.T) {
	t.Run("Default", func(t *testing.T) {
		assert.NoError(t, DefaultConfiguration().Validate())
	})

	t.Run("MinAboveMax", func(t *testing.T) {
		cfg := DefaultConfiguration()
		cfg.Constraints.MinValue = 500
		cfg.Constraints.MaxValue = 100

		var cfgErr *ConfigError
		require.ErrorAs(t, cfg.Validate(), &cfgErr)
		require.Len(t, cfgErr.Fields, 1)
		assert.Equal(t, "constraints.min_value", cfgErr.Fields[0].Field)
	})

	t.Run("UnknownInstrument", func(t *testing.T) {
		cfg := DefaultConfiguration()
		cfg.Constraints.AllowedTypes = []types.InstrumentType{types.InstrumentICMS, "BITCOIN"}

		var cfgErr *ConfigError
		require.ErrorAs(t, cfg.Validate(), &cfgErr)
		assert.Equal(t, "constraints.allowed_types", cfgErr.Fields[0].Field)
		assert.Contains(t, cfgErr.Error(), "BITCOIN")
	})

	t.Run("OutOfRangeFields", func(t *testing.T) {
		cfg := DefaultConfiguration()
		cfg.Objectives.Economy = 1.5
		cfg.Objectives.Speed = -0.1
		cfg.Constraints.MaxRisk = "EXTREME"
		cfg.Constraints.MaxExecutionDays = -1

		var cfgErr *ConfigError
		require.ErrorAs(t, cfg.Validate(), &cfgErr)

		fields := map[string]bool{}
		for _, f := range cfgErr.Fields {
			fields[f.Field] = true
		}
		assert.True(t, fields["objectives.economy"])
		assert.True(t, fields["objectives.speed"])
		assert.True(t, fields["constraints.max_risk"])
		assert.True(t, fields["constraints.max_execution_days"])
	})
}

func TestConfiguration_MaxRiskTier(t *testing.T) {
	cfg := DefaultConfiguration()
	assert.Equal(t, types.RiskHigh, cfg.MaxRiskTier())

	cfg.Constraints.MaxRisk = types.RiskLow
	assert.Equal(t, types.RiskLow, cfg.MaxRiskTier())
}
