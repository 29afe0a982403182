package sqlutil

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/syncbridge/replica-server-go/internal/errors"
)

// identifierPattern is the sole gate preventing SQL injection through table
// and column names sourced from a remote peer. Anything it rejects must
// abort the whole operation.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// WireTypeKey tags non-primitive values in the JSON record wire format.
const WireTypeKey = "__type__"

const (
	WireTypeDatetime = "datetime"
	WireTypeDate     = "date"
	WireTypeTime     = "time"
	WireTypeDecimal  = "decimal"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05"
)

// Date is a calendar date surviving the wire round-trip exactly.
type Date string

func (d Date) Value() (driver.Value, error) { return string(d), nil }

// TimeOfDay is a wall-clock time surviving the wire round-trip exactly.
type TimeOfDay string

func (t TimeOfDay) Value() (driver.Value, error) { return string(t), nil }

// EscapeIdentifier validates a table or column name for safe interpolation
// into generated SQL. It accepts [A-Za-z_][A-Za-z0-9_]* only and fails
// closed on everything else.
func EscapeIdentifier(name string) (string, error) {
	if !identifierPattern.MatchString(name) {
		return "", apperrors.InvalidIdentifier(name)
	}
	return name, nil
}

// EncodeLiteral renders a typed value as a Postgres literal, doubling
// embedded single quotes in strings and JSON. Values reaching queries at
// runtime are bound as parameters; the literal form exists for generated
// DDL defaults and diagnostics.
func EncodeLiteral(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "NULL", nil
	case bool:
		if val {
			return "TRUE", nil
		}
		return "FALSE", nil
	case int:
		return strconv.Itoa(val), nil
	case int32:
		return strconv.FormatInt(int64(val), 10), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64), nil
	case string:
		return quoteString(val), nil
	case Date:
		return quoteString(string(val)), nil
	case TimeOfDay:
		return quoteString(string(val)), nil
	case time.Time:
		return quoteString(val.UTC().Format(time.RFC3339Nano)), nil
	case decimal.Decimal:
		return val.String(), nil
	case json.RawMessage:
		return quoteString(string(val)), nil
	case map[string]any, []any:
		data, err := json.Marshal(val)
		if err != nil {
			return "", fmt.Errorf("encode json literal: %w", err)
		}
		return quoteString(string(data)), nil
	default:
		return "", fmt.Errorf("unsupported literal type %T", v)
	}
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// EncodeWireValue converts a typed value to its JSON-transportable form.
// Primitives pass through; datetimes, dates, times and decimals become the
// tagged union {"__type__": ..., "value": ...} so they survive a JSON
// round-trip exactly.
func EncodeWireValue(v any) any {
	switch val := v.(type) {
	case time.Time:
		return map[string]any{WireTypeKey: WireTypeDatetime, "value": val.UTC().Format(time.RFC3339Nano)}
	case Date:
		return map[string]any{WireTypeKey: WireTypeDate, "value": string(val)}
	case TimeOfDay:
		return map[string]any{WireTypeKey: WireTypeTime, "value": string(val)}
	case decimal.Decimal:
		return map[string]any{WireTypeKey: WireTypeDecimal, "value": val.String()}
	case []byte:
		return string(val)
	default:
		return v
	}
}

// DecodeWireValue inverts EncodeWireValue. Untagged values pass through
// unchanged; a malformed tag is an error, never silently dropped.
func DecodeWireValue(v any) (any, error) {
	tagged, ok := v.(map[string]any)
	if !ok {
		return v, nil
	}

	typeName, ok := tagged[WireTypeKey].(string)
	if !ok {
		// A plain JSON object column, not a tagged value.
		return v, nil
	}

	raw, ok := tagged["value"].(string)
	if !ok {
		return nil, fmt.Errorf("tagged wire value %q missing string value", typeName)
	}

	switch typeName {
	case WireTypeDatetime:
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("decode datetime %q: %w", raw, err)
		}
		return t, nil
	case WireTypeDate:
		if _, err := time.Parse(dateLayout, raw); err != nil {
			return nil, fmt.Errorf("decode date %q: %w", raw, err)
		}
		return Date(raw), nil
	case WireTypeTime:
		if _, err := time.Parse(timeLayout, raw); err != nil {
			return nil, fmt.Errorf("decode time %q: %w", raw, err)
		}
		return TimeOfDay(raw), nil
	case WireTypeDecimal:
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("decode decimal %q: %w", raw, err)
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unknown wire type %q", typeName)
	}
}

// DecodeWireRecord normalizes one wire record: keys to plain strings,
// tagged values decoded. The first bad value fails the record.
func DecodeWireRecord(record map[string]any) (map[string]any, error) {
	decoded := make(map[string]any, len(record))
	for key, value := range record {
		v, err := DecodeWireValue(value)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", key, err)
		}
		decoded[key] = v
	}
	return decoded, nil
}

// EncodeWireRecord converts a row of driver-native values into the record
// wire format.
func EncodeWireRecord(record map[string]any) map[string]any {
	encoded := make(map[string]any, len(record))
	for key, value := range record {
		encoded[key] = EncodeWireValue(value)
	}
	return encoded
}
