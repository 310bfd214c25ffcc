package normalizers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name      string
		fieldType models.FieldType
		raw       any
		expected  string
		present   bool
		exactOnly bool
	}{
		{name: "email lowercase and trim", fieldType: models.FieldTypeEmail, raw: "  Joe@Joes.COM ", expected: "joe@joes.com", present: true},
		{name: "malformed email is exact only", fieldType: models.FieldTypeEmail, raw: "Joe at joes", expected: "joe at joes", present: true, exactOnly: true},
		{name: "phone formatted", fieldType: models.FieldTypePhone, raw: "(555) 123-4567", expected: "5551234567", present: true},
		{name: "phone with country code", fieldType: models.FieldTypePhone, raw: "+1 555.123.4567", expected: "5551234567", present: true},
		{name: "phone too short", fieldType: models.FieldTypePhone, raw: "12-34", present: false},
		{name: "company suffix and apostrophe", fieldType: models.FieldTypeCompanyName, raw: "Joe's Restaurant, LLC", expected: "joes restaurant", present: true},
		{name: "company stopwords", fieldType: models.FieldTypeCompanyName, raw: "The Bread & Butter Co.", expected: "bread butter", present: true},
		{name: "company accents", fieldType: models.FieldTypeCompanyName, raw: "Café Crème Inc", expected: "cafe creme", present: true},
		{name: "company only suffixes", fieldType: models.FieldTypeCompanyName, raw: "LLC", present: false},
		{name: "name suffix", fieldType: models.FieldTypeName, raw: "Joe Smith, Jr.", expected: "joe smith", present: true},
		{name: "name accents", fieldType: models.FieldTypeName, raw: "José  Núñez", expected: "jose nunez", present: true},
		{name: "address abbreviations", fieldType: models.FieldTypeAddress, raw: "123 North Main Street, Suite 4", expected: "123 n main st ste 4", present: true},
		{name: "address whole tokens only", fieldType: models.FieldTypeAddress, raw: "1 Streetwise Avenue", expected: "1 streetwise ave", present: true},
		{name: "text collapse", fieldType: models.FieldTypeText, raw: "  Hello   World ", expected: "hello world", present: true},
		{name: "nil", fieldType: models.FieldTypeName, raw: nil, present: false},
		{name: "blank", fieldType: models.FieldTypeEmail, raw: "   ", present: false},
		{name: "numeric phone", fieldType: models.FieldTypePhone, raw: int64(5551234567), expected: "5551234567", present: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok, err := Normalize(tt.fieldType, tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.present, ok)
			if tt.present {
				assert.Equal(t, tt.expected, v.Text)
				assert.Equal(t, tt.exactOnly, v.ExactOnly)
			}
		})
	}
}

func TestNormalize_Errors(t *testing.T) {
	_, _, err := Normalize(models.FieldTypeText, map[string]any{"a": 1})
	assert.Error(t, err)

	_, _, err = Normalize(models.FieldType("ssn"), "123")
	assert.Error(t, err)
}

func TestNormalize_Deterministic(t *testing.T) {
	for i := 0; i < 3; i++ {
		v, _, _ := Normalize(models.FieldTypeCompanyName, "Joe's Restaurant LLC")
		assert.Equal(t, "joes restaurant", v.Text)
	}
}

func TestApplyChain(t *testing.T) {
	assert.Equal(t, "5551234567", ApplyChain(" 555-123-4567 ", "trim", "digits_only"))
	assert.Equal(t, "JOE", ApplyChain("joe", "uppercase", "unknown"))

	fn, ok := Get("nphone")
	require.True(t, ok)
	assert.Equal(t, "5551234567", fn("1-555-123-4567"))
}
