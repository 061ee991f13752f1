package identifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSIREN(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"732829320", true},
		{"356000000", true},
		{"732829321", false},
		{"742829320", false},
		{"73282932", false},
		{"7328293200", false},
		{"73282932A", false},
		{"", false},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			assert.Equal(t, test.expected, ValidateSIREN(test.input))
		})
	}
}

func TestValidateSIRENEverySingleDigitMutationFails(t *testing.T) {
	valid := "732829320"
	require.True(t, ValidateSIREN(valid))

	for i := range valid {
		mutated := []byte(valid)
		mutated[i] = '0' + (mutated[i]-'0'+1)%10

		assert.False(t, ValidateSIREN(string(mutated)), "mutation at %d: %s", i, mutated)
	}
}

func TestValidateSIRETAndRNA(t *testing.T) {
	assert.True(t, ValidateSIRET("73282932000074"))
	assert.True(t, ValidateSIRET("73282932000075"))
	assert.False(t, ValidateSIRET("7328293200007"))

	assert.True(t, ValidateSIRETChecksum("73282932000074"))
	assert.False(t, ValidateSIRETChecksum("73282932000075"))

	assert.True(t, ValidateRNA("W75123456"))
	assert.False(t, ValidateRNA("w75123456"))
	assert.False(t, ValidateRNA("X75123456"))
	assert.False(t, ValidateRNA("W7512345"))
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{" 732 829 320 ", "732829320"},
		{"732-829-320", "732829320"},
		{"w75-123 456", "W75123456"},
		{"\t732\n829 320", "732829320"},
		{"", ""},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			got := Normalize(test.input)
			assert.Equal(t, test.expected, got)
			assert.Equal(t, got, Normalize(got))
		})
	}
}

func TestDetectKind(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Kind
	}{
		{"siren", "732 829 320", SIREN},
		{"siren failing checksum", "732829321", Unknown},
		{"siret", "732 829 320 00074", SIRET},
		{"rna lowercase", "w75123456", RNA},
		{"rna", "W75123456", RNA},
		{"garbage", "hello", Unknown},
		{"empty", "", Unknown},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, DetectKind(test.input))
		})
	}
}

func TestFormatSIREN(t *testing.T) {
	assert.Equal(t, "732829320", FormatSIREN("732 829 320 00074"))
	assert.Equal(t, "732829320", FormatSIREN("732-829-320"))
	assert.Equal(t, "1234", FormatSIREN("12 34"))
	assert.Equal(t, "", FormatSIREN(""))
}

func TestFormatRNA(t *testing.T) {
	assert.Equal(t, "W75123456", FormatRNA("75123456"))
	assert.Equal(t, "W75123456", FormatRNA("w75 123 456"))
	assert.Equal(t, "123", FormatRNA("123"))
}

func TestParse(t *testing.T) {
	id := Parse(" 732 829 320 00074 ")

	assert.Equal(t, SIRET, id.Kind)
	assert.Equal(t, "73282932000074", id.Normalized)
	assert.Equal(t, "732829320", id.SIREN())
	assert.True(t, id.Valid())

	rna := Parse("W75123456")
	assert.Equal(t, "", rna.SIREN())

	unknown := Parse("nope")
	assert.False(t, unknown.Valid())
}
