package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "ruletrace/pkg/domain-errors"
)

// TestParseCaseID_Invariants validates the case identifier grammar:
// {domain}_{requirement}_{concept}, at least three segments, with a
// requirement segment matching r<digits> case-insensitively.
func TestParseCaseID_Invariants(t *testing.T) {
	t.Run("accepts the canonical form", func(t *testing.T) {
		caseID, err := ParseCaseID("ecommerce_r1_consent")
		require.NoError(t, err)
		assert.Equal(t, CaseID("ecommerce_r1_consent"), caseID)
		assert.Equal(t, "ecommerce", caseID.Domain())
	})

	t.Run("accepts uppercase requirement letter", func(t *testing.T) {
		_, err := ParseCaseID("finance_R12_retention")
		require.NoError(t, err)
	})

	t.Run("accepts multi-segment domain and concept", func(t *testing.T) {
		_, err := ParseCaseID("health_insurance_r2_patient_consent")
		require.NoError(t, err)
	})

	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"whitespace only", "   "},
		{"two segments", "ecommerce_r1"},
		{"missing requirement", "ecommerce_foo_consent"},
		{"requirement in first position", "r1_ecommerce_consent"},
		{"requirement without digits", "ecommerce_r_consent"},
		{"uppercase domain", "Ecommerce_r1_consent"},
		{"empty segment", "ecommerce__r1_consent"},
		{"trailing underscore", "ecommerce_r1_consent_"},
		{"leading underscore", "_ecommerce_r1_consent"},
		{"spaces inside", "ecommerce_r1_my consent"},
		{"sql injection", "'; DROP TABLE rules;--"},
		{"oversized", "ecommerce_r1_" + strings.Repeat("a", 200)},
	}
	for _, tt := range tests {
		t.Run("rejects "+tt.name, func(t *testing.T) {
			_, err := ParseCaseID(tt.input)
			require.Error(t, err)
			assert.True(t, dErrors.Is(err, dErrors.CodeValidation))
		})
	}
}

// TestParseRuleID_Invariants validates the rule identifier grammar:
// {POLICY}_{concept}_{version} with an uppercase alphanumeric policy prefix
// and a positive-integer trailing segment.
func TestParseRuleID_Invariants(t *testing.T) {
	t.Run("accepts the canonical form", func(t *testing.T) {
		ruleID, err := ParseRuleID("GDPR_consent_01")
		require.NoError(t, err)
		assert.Equal(t, "GDPR", ruleID.Policy())
		assert.Equal(t, 1, ruleID.Version())
		assert.Equal(t, RuleID("GDPR_consent"), ruleID.Base())
	})

	t.Run("accepts multi-segment concept and large versions", func(t *testing.T) {
		ruleID, err := ParseRuleID("HIPAA_patient_consent_12")
		require.NoError(t, err)
		assert.Equal(t, 12, ruleID.Version())
		assert.Equal(t, RuleID("HIPAA_patient_consent"), ruleID.Base())
	})

	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"two segments", "GDPR_01"},
		{"lowercase policy", "gdpr_consent_01"},
		{"mixed-case policy", "Gdpr_consent_01"},
		{"zero version", "GDPR_consent_00"},
		{"negative version", "GDPR_consent_-1"},
		{"non-numeric version", "GDPR_consent_one"},
		{"uppercase concept segment", "GDPR_Consent_01"},
		{"empty segment", "GDPR__01"},
		{"oversized", "GDPR_" + strings.Repeat("a", 200) + "_01"},
	}
	for _, tt := range tests {
		t.Run("rejects "+tt.name, func(t *testing.T) {
			_, err := ParseRuleID(tt.input)
			require.Error(t, err)
			assert.True(t, dErrors.Is(err, dErrors.CodeValidation))
		})
	}
}

func TestNextVersionID(t *testing.T) {
	assert.Equal(t, RuleID("GDPR_consent_02"), NextVersionID("GDPR_consent_01", 2))
	assert.Equal(t, RuleID("GDPR_consent_10"), NextVersionID("GDPR_consent_03", 10))
	// three-digit versions grow past the zero padding
	assert.Equal(t, RuleID("GDPR_consent_100"), NextVersionID("GDPR_consent_99", 100))
	// a bare base works too
	assert.Equal(t, RuleID("GDPR_consent_05"), NextVersionID("GDPR_consent", 5))
}

func TestDeriveRuleID(t *testing.T) {
	t.Run("derives the first version id", func(t *testing.T) {
		ruleID, err := DeriveRuleID("GDPR", "consent")
		require.NoError(t, err)
		assert.Equal(t, RuleID("GDPR_consent_01"), ruleID)
	})

	t.Run("normalizes the policy area", func(t *testing.T) {
		ruleID, err := DeriveRuleID("  gdpr ", "consent")
		require.NoError(t, err)
		assert.Equal(t, "GDPR", ruleID.Policy())
	})

	t.Run("cleans and truncates the key concept", func(t *testing.T) {
		ruleID, err := DeriveRuleID("SOX", "Data Retention - Long Term Archive")
		require.NoError(t, err)
		assert.Equal(t, RuleID("SOX_data_retention_long_01"), ruleID)
	})

	t.Run("rejects an empty policy area", func(t *testing.T) {
		_, err := DeriveRuleID("  ", "consent")
		require.Error(t, err)
		assert.True(t, dErrors.Is(err, dErrors.CodeValidation))
	})

	t.Run("rejects a concept that cleans to nothing", func(t *testing.T) {
		_, err := DeriveRuleID("GDPR", "!!!")
		require.Error(t, err)
		assert.True(t, dErrors.Is(err, dErrors.CodeValidation))
	})
}

func TestCleanConcept(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"consent", "consent"},
		{"Data Processing", "data_processing"},
		{"multi - part -- concept", "multi_part_concept"},
		{"  padded  ", "padded"},
		{"UPPER", "upper"},
		{"emoji🙂mixed", "emojimixed"},
		{"a_very_long_concept_name_indeed", "a_very_long_concept"},
		{"___", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CleanConcept(tt.input), "input %q", tt.input)
	}
}
