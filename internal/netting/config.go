package netting

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ksred/klear-compensation/internal/types"
)

// Default economy parameters. They are estimates, not data-driven rates.
const (
	DefaultMonthlyInterestRate = 0.02
	DefaultPenaltyRate         = 0.10
	DefaultHighValueThreshold  = 1000000.0
)

// Objectives weights each ranking objective in [0,1].
type Objectives struct {
	Economy      float64 `json:"economy" validate:"gte=0,lte=1"`
	Risk         float64 `json:"risk" validate:"gte=0,lte=1"`
	Speed        float64 `json:"speed" validate:"gte=0,lte=1"`
	Participants float64 `json:"participants" validate:"gte=0,lte=1"`
}

// Constraints bound the matches that may be accepted. Zero values mean unbounded.
type Constraints struct {
	MinValue         float64                `json:"min_value" validate:"gte=0"`
	MaxValue         float64                `json:"max_value" validate:"gte=0"`
	MaxExecutionDays int                    `json:"max_execution_days" validate:"gte=0"`
	MaxRisk          types.RiskTier         `json:"max_risk" validate:"omitempty,oneof=LOW MEDIUM HIGH"`
	AllowedTypes     []types.InstrumentType `json:"allowed_types"`
}

type Preferences struct {
	PrioritizeLiquidity bool `json:"prioritize_liquidity"`
	RequireGuarantees   bool `json:"require_guarantees"`
	AllowInstallments   bool `json:"allow_installments"`
	AcceptDiscounts     bool `json:"accept_discounts"`
}

// EconomyParameters feed the economy and risk estimates of the match builder.
type EconomyParameters struct {
	MonthlyInterestRate float64 `json:"monthly_interest_rate" validate:"gte=0,lte=1"`
	DefaultPenaltyRate  float64 `json:"default_penalty_rate" validate:"gte=0,lte=1"`
	HighValueThreshold  float64 `json:"high_value_threshold" validate:"gte=0"`
}

// Configuration is the caller-supplied input of one optimization run.
type Configuration struct {
	Objectives    Objectives        `json:"objectives"`
	Constraints   Constraints       `json:"constraints"`
	Preferences   Preferences       `json:"preferences"`
	Economy       EconomyParameters `json:"economy"`
	ReferenceDate time.Time         `json:"reference_date"`
}

// DefaultConfiguration weights every objective equally and imposes no constraints.
func DefaultConfiguration() Configuration {
	return Configuration{
		Objectives: Objectives{
			Economy:      1,
			Risk:         1,
			Speed:        1,
			Participants: 1,
		},
		Preferences: Preferences{
			AllowInstallments: true,
			AcceptDiscounts:   true,
		},
		Economy: EconomyParameters{
			MonthlyInterestRate: DefaultMonthlyInterestRate,
			DefaultPenaltyRate:  DefaultPenaltyRate,
			HighValueThreshold:  DefaultHighValueThreshold,
		},
	}
}

// MaxRiskTier returns the configured ceiling, HIGH when unset.
func (c Configuration) MaxRiskTier() types.RiskTier {
	if c.Constraints.MaxRisk == "" {
		return types.RiskHigh
	}
	return c.Constraints.MaxRisk
}

func (c Configuration) allowsType(t types.InstrumentType) bool {
	if len(c.Constraints.AllowedTypes) == 0 {
		return true
	}
	for _, allowed := range c.Constraints.AllowedTypes {
		if allowed == t {
			return true
		}
	}
	return false
}

// FieldError describes one rejected configuration field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ConfigError is returned when a Configuration is rejected before optimization.
type ConfigError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ConfigError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Reason)
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}

func (e *ConfigError) add(field, reason string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Reason: reason})
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field ranges and cross-field rules. It returns a *ConfigError
// describing every problem found, or nil.
func (c Configuration) Validate() error {
	cfgErr := &ConfigError{}

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("failed to validate configuration: %w", err)
		}
		for _, fe := range fieldErrs {
			cfgErr.add(trimNamespace(fe.Namespace()), fmt.Sprintf("failed %q (%v)", fe.Tag(), fe.Value()))
		}
	}

	if c.Constraints.MaxValue > 0 && c.Constraints.MinValue > c.Constraints.MaxValue {
		cfgErr.add("constraints.min_value", "must not exceed max_value")
	}
	for _, t := range c.Constraints.AllowedTypes {
		if !types.KnownInstrument(t) {
			cfgErr.add("constraints.allowed_types", fmt.Sprintf("unknown instrument type %q", t))
		}
	}

	if len(cfgErr.Fields) > 0 {
		return cfgErr
	}
	return nil
}

// trimNamespace turns "Configuration.constraints.min_value" into "constraints.min_value".
func trimNamespace(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
