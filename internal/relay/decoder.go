package relay

import (
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"dispatch/internal/types"
)

// wirePosition mirrors types.PositionEvent but keeps ID optional so that a
// missing or null id can be told apart from id 0. Numbers and booleans may
// also arrive quoted.
type wirePosition struct {
	ID            *looseInt64   `json:"id"`
	CreationTime  *time.Time    `json:"creationtime"`
	BusID         *string       `json:"busId"`
	Latitude      *looseFloat64 `json:"latitude"`
	Longitude     *looseFloat64 `json:"longitude"`
	NextBusStopID *string       `json:"nextBusStopId"`
	IsBusStop     *looseBool    `json:"isBusStop"`
}

// looseInt64 accepts 42 and "42".
type looseInt64 int64

func (v *looseInt64) UnmarshalJSON(b []byte) error {
	s := scalarText(b)
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return scalarTypeError(b, reflect.TypeOf(int64(0)))
	}
	*v = looseInt64(n)
	return nil
}

// looseFloat64 accepts 52.5 and "52.5". NaN and infinities are rejected.
type looseFloat64 float64

func (v *looseFloat64) UnmarshalJSON(b []byte) error {
	s := scalarText(b)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return scalarTypeError(b, reflect.TypeOf(float64(0)))
	}
	*v = looseFloat64(f)
	return nil
}

// looseBool accepts true and "true".
type looseBool bool

func (v *looseBool) UnmarshalJSON(b []byte) error {
	switch scalarText(b) {
	case "true":
		*v = true
	case "false":
		*v = false
	default:
		return scalarTypeError(b, reflect.TypeOf(false))
	}
	return nil
}

// scalarText returns the token's text, unquoting strings.
func scalarText(b []byte) string {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err == nil {
			return s
		}
	}
	return string(b)
}

// scalarTypeError is filled in with the field name by encoding/json.
func scalarTypeError(b []byte, t reflect.Type) error {
	kind := "number"
	if len(b) > 0 {
		switch b[0] {
		case '"':
			kind = "string"
		case 't', 'f':
			kind = "bool"
		case '{':
			kind = "object"
		case '[':
			kind = "array"
		}
	}
	return &json.UnmarshalTypeError{Value: kind, Type: t}
}

func floatPtr(v *looseFloat64) *float64 {
	if v == nil {
		return nil
	}
	f := float64(*v)
	return &f
}

func boolPtr(v *looseBool) *bool {
	if v == nil {
		return nil
	}
	b := bool(*v)
	return &b
}

// Decode parses one raw notification payload into a PositionEvent.
//
// Unknown fields are ignored and absent fields stay nil. Numeric and boolean
// fields also accept their quoted form, e.g. "id":"42". A payload that is not
// a JSON object of the expected shape yields ErrCodeDecodeMalformed; a payload
// without an id yields ErrCodeDecodeMissingID. Decode has no side effects.
func Decode(raw string) (types.PositionEvent, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return types.PositionEvent{}, types.NewAppError(
			types.ErrCodeDecodeMalformed,
			"empty notification payload",
			nil,
		)
	}

	var w wirePosition
	if err := json.Unmarshal([]byte(trimmed), &w); err != nil {
		return types.PositionEvent{}, mapDecodeError(err)
	}

	if w.ID == nil {
		return types.PositionEvent{}, types.NewAppError(
			types.ErrCodeDecodeMissingID,
			"notification payload has no id",
			nil,
		)
	}

	return types.PositionEvent{
		ID:            int64(*w.ID),
		CreationTime:  w.CreationTime,
		BusID:         w.BusID,
		Latitude:      floatPtr(w.Latitude),
		Longitude:     floatPtr(w.Longitude),
		NextBusStopID: w.NextBusStopID,
		IsBusStop:     boolPtr(w.IsBusStop),
	}, nil
}

// mapDecodeError translates a json error into a malformed-payload AppError,
// keeping the offending field when the decoder reports one.
func mapDecodeError(err error) *types.AppError {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return types.NewAppErrorWithDetails(
			types.ErrCodeDecodeMalformed,
			"invalid value for field",
			err,
			map[string]any{
				"field":    typeErr.Field,
				"expected": typeErr.Type.String(),
			},
		)
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return types.NewAppErrorWithDetails(
			types.ErrCodeDecodeMalformed,
			"notification payload is not valid JSON",
			err,
			map[string]any{"offset": syntaxErr.Offset},
		)
	}

	return types.NewAppError(types.ErrCodeDecodeMalformed, "notification payload could not be decoded", err)
}
