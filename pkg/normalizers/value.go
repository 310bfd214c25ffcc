package normalizers

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Ramsey-B/clover/pkg/models"
)

// minPhoneDigits is the shortest digit string treated as a phone number
const minPhoneDigits = 7

// Value is a normalized field value
type Value struct {
	Text string
	// ExactOnly marks values that only compare by equality, such as malformed emails.
	ExactOnly bool
}

// Normalize canonicalizes a raw value for the given field type. It returns
// false when the value is absent: nil, blank, or a phone with too few digits.
func Normalize(fieldType models.FieldType, raw any) (Value, bool, error) {
	s, ok, err := ToString(raw)
	if err != nil || !ok {
		return Value{}, false, err
	}
	return NormalizeString(fieldType, s)
}

// NormalizeString is Normalize for values already converted to strings
func NormalizeString(fieldType models.FieldType, s string) (Value, bool, error) {
	if strings.TrimSpace(s) == "" {
		return Value{}, false, nil
	}

	var v Value
	switch fieldType {
	case models.FieldTypeEmail:
		v.Text = NormalizeEmail(s)
		v.ExactOnly = !IsEmailShaped(v.Text)
	case models.FieldTypePhone:
		v.Text = NormalizePhone(s)
		if len(v.Text) < minPhoneDigits {
			return Value{}, false, nil
		}
	case models.FieldTypeName:
		v.Text = NormalizeName(s)
	case models.FieldTypeCompanyName:
		v.Text = NormalizeCompany(s)
	case models.FieldTypeAddress:
		v.Text = NormalizeAddress(s)
	case models.FieldTypeText:
		v.Text = NormalizeText(s)
	default:
		return Value{}, false, fmt.Errorf("unknown field type %q", fieldType)
	}

	if v.Text == "" {
		return Value{}, false, nil
	}
	return v, true, nil
}

// ToString converts a scalar column value to a string. Composite values
// cannot be compared as text and return an error.
func ToString(raw any) (string, bool, error) {
	switch v := raw.(type) {
	case nil:
		return "", false, nil
	case string:
		return v, true, nil
	case *string:
		if v == nil {
			return "", false, nil
		}
		return *v, true, nil
	case []byte:
		return string(v), true, nil
	case int:
		return strconv.Itoa(v), true, nil
	case int32:
		return strconv.FormatInt(int64(v), 10), true, nil
	case int64:
		return strconv.FormatInt(v, 10), true, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true, nil
	case bool:
		return strconv.FormatBool(v), true, nil
	case time.Time:
		return v.UTC().Format(time.RFC3339), true, nil
	case map[string]any, []any:
		return "", false, fmt.Errorf("cannot compare composite value of type %T", raw)
	default:
		return fmt.Sprintf("%v", v), true, nil
	}
}
