package target

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	mssql "github.com/microsoft/go-mssqldb"

	"github.com/johndauphine/pg-mssql-migrate/internal/typemap"
)

// valueKind is how a destination column wants its values.
type valueKind int

const (
	kindPassthrough valueKind = iota
	kindText
	kindUUID
	kindDecimal
	kindBit
	kindBinary
	kindTime
)

type columnConv struct {
	kind  valueKind
	scale int
}

// Coercer converts source driver values into values the destination
// accepts for each column's destination type. The bulk copy protocol is
// strict: uuids must be wire-order bytes, BIT wants bool, DECIMAL wants a
// string no finer than the column scale and VARBINARY wants []byte.
type Coercer struct {
	columns []columnConv
}

// NewCoercer creates a coercer for columns with the given destination types.
func NewCoercer(destTypes []string) *Coercer {
	cols := make([]columnConv, len(destTypes))
	for i, t := range destTypes {
		cols[i] = convFor(t)
	}
	return &Coercer{columns: cols}
}

func convFor(destType string) columnConv {
	t := strings.ToUpper(strings.TrimSpace(destType))
	switch {
	case t == "UNIQUEIDENTIFIER":
		return columnConv{kind: kindUUID}
	case strings.HasPrefix(t, "DECIMAL"), strings.HasPrefix(t, "NUMERIC"):
		return columnConv{kind: kindDecimal, scale: declaredScale(t)}
	case t == "MONEY" || t == "SMALLMONEY":
		return columnConv{kind: kindDecimal, scale: 4}
	case t == "BIT":
		return columnConv{kind: kindBit}
	case strings.HasPrefix(t, "VARBINARY"), strings.HasPrefix(t, "BINARY"):
		return columnConv{kind: kindBinary}
	case t == "TIME" || strings.HasPrefix(t, "TIME("):
		return columnConv{kind: kindTime}
	case typemap.IsText(t):
		return columnConv{kind: kindText}
	}
	return columnConv{kind: kindPassthrough}
}

// declaredScale reads s from "DECIMAL(p, s)". Without one the scale is 0.
func declaredScale(t string) int {
	open, end := strings.IndexByte(t, '('), strings.IndexByte(t, ')')
	if open < 0 || end < open {
		return 0
	}
	parts := strings.Split(t[open+1:end], ",")
	if len(parts) != 2 {
		return 0
	}
	s, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || s < 0 {
		return 0
	}
	return s
}

// Row converts one row in place and returns it.
func (c *Coercer) Row(row []any) ([]any, error) {
	if len(row) != len(c.columns) {
		return nil, fmt.Errorf("row has %d values, expected %d", len(row), len(c.columns))
	}
	for i, v := range row {
		out, err := coerceValue(v, c.columns[i])
		if err != nil {
			return nil, fmt.Errorf("column %d: %w", i+1, err)
		}
		row[i] = out
	}
	return row, nil
}

func coerceValue(v any, col columnConv) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch col.kind {
	case kindUUID:
		return coerceUUID(v)
	case kindDecimal:
		return coerceDecimal(v, col.scale)
	case kindBit:
		return coerceBit(v)
	case kindBinary:
		return coerceBinary(v), nil
	case kindTime:
		return coerceTime(v), nil
	}

	text := col.kind == kindText
	switch val := v.(type) {
	case []byte:
		if text || isASCIINumeric(val) {
			return string(val), nil
		}
		return val, nil
	case string:
		return val, nil
	case time.Time:
		if text {
			return val.Format(time.RFC3339Nano), nil
		}
		return val, nil
	}
	if text {
		return fmt.Sprint(v), nil
	}
	return v, nil
}

// coerceUUID returns the 16 bytes in SQL Server's mixed-endian wire order.
func coerceUUID(v any) (any, error) {
	var u uuid.UUID
	var err error
	switch val := v.(type) {
	case string:
		u, err = uuid.Parse(val)
	case []byte:
		if len(val) == 16 {
			u, err = uuid.FromBytes(val)
		} else {
			u, err = uuid.ParseBytes(val)
		}
	case [16]byte:
		u = uuid.UUID(val)
	case uuid.UUID:
		u = val
	default:
		return nil, fmt.Errorf("cannot convert %T to uuid", v)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid uuid %q: %w", v, err)
	}
	return mssql.UniqueIdentifier(u).Value()
}

// coerceDecimal rounds numeric text to the column scale. Money text such
// as "-$1,234.56" or "($7.00)" loses its currency formatting first.
func coerceDecimal(v any, scale int) (any, error) {
	var s string
	switch val := v.(type) {
	case string:
		s = val
	case []byte:
		s = string(val)
	default:
		return v, nil
	}

	s = stripMoney(s)
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("invalid decimal %q", v)
	}
	return r.FloatString(scale), nil
}

func stripMoney(s string) string {
	s = strings.TrimSpace(s)
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.', r == 'e', r == 'E':
			b.WriteRune(r)
		case r == '+' || r == '-':
			// Exponent signs stay; any other minus negates.
			if n := b.Len(); n > 0 && (b.String()[n-1] == 'e' || b.String()[n-1] == 'E') {
				b.WriteRune(r)
			} else if r == '-' {
				negative = !negative
			}
		}
	}
	if negative {
		return "-" + b.String()
	}
	return b.String()
}

func coerceBit(v any) (any, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case int64:
		return val != 0, nil
	case []byte:
		return parseBit(string(val))
	case string:
		return parseBit(val)
	}
	return nil, fmt.Errorf("cannot convert %T to bit", v)
}

func parseBit(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "t", "true", "y", "yes", "on":
		return true, nil
	case "0", "f", "false", "n", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid bit %q", s)
}

// coerceBinary packs PostgreSQL bit strings ("10110") most significant bit
// first, padding the last byte with zeros. Other text is taken as raw bytes.
func coerceBinary(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if strings.Trim(s, "01") != "" {
		return []byte(s)
	}
	packed := make([]byte, (len(s)+7)/8)
	for i := 0; i < len(s); i++ {
		if s[i] == '1' {
			packed[i/8] |= 0x80 >> (i % 8)
		}
	}
	return packed
}

// coerceTime drops the zone offset of a timetz value ("12:34:56+05:30").
func coerceTime(v any) any {
	var s string
	switch val := v.(type) {
	case string:
		s = val
	case []byte:
		s = string(val)
	default:
		return v
	}
	if i := strings.LastIndexAny(s, "+-"); i > 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// isASCIINumeric reports whether b is a decimal number literal, which is how
// the source driver hands over numeric values it has no Go type for.
func isASCIINumeric(b []byte) bool {
	if len(b) == 0 {
		return false
	}

	hasDigit := false
	hasDot := false
	hasE := false
	i := 0

	if b[i] == '+' || b[i] == '-' {
		i++
		if i >= len(b) {
			return false
		}
	}

	for i < len(b) {
		c := b[i]
		switch {
		case c >= '0' && c <= '9':
			hasDigit = true
		case c == '.':
			if hasDot || hasE {
				return false
			}
			hasDot = true
		case c == 'E' || c == 'e':
			if hasE || !hasDigit {
				return false
			}
			hasE = true
			i++
			if i < len(b) && (b[i] == '+' || b[i] == '-') {
				i++
			}
			if i >= len(b) || b[i] < '0' || b[i] > '9' {
				return false
			}
			continue
		default:
			return false
		}
		i++
	}

	return hasDigit
}
