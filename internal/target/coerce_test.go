package target

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestIsASCIINumeric(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"123", true},
		{"-12.50", true},
		{"+0.5", true},
		{"1e10", true},
		{"1.5E-3", true},
		{"", false},
		{"-", false},
		{"1.2.3", false},
		{"e5", false},
		{"1e", false},
		{"12a", false},
		{"NaN", false},
	}
	for _, tt := range tests {
		if got := isASCIINumeric([]byte(tt.in)); got != tt.want {
			t.Errorf("isASCIINumeric(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// wireUUID is 6ba7b810-9dad-11d1-80b4-00c04fd430c8 in SQL Server byte order.
var wireUUID = []byte{0x10, 0xb8, 0xa7, 0x6b, 0xad, 0x9d, 0xd1, 0x11, 0x80, 0xb4, 0x00, 0xc0, 0x4f, 0xd4, 0x30, 0xc8}

func TestCoercerRow(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	c := NewCoercer([]string{
		"NVARCHAR(MAX)",
		"DECIMAL(12, 2)",
		"VARBINARY(MAX)",
		"UNIQUEIDENTIFIER",
		"UNIQUEIDENTIFIER",
		"DATETIME2",
		"NVARCHAR(100)",
		"INT",
		"BIT",
	})
	row, err := c.Row([]any{
		[]byte(`{"a":1}`),
		[]byte("12.50"),
		[]byte{0xde, 0xad},
		"6BA7B810-9DAD-11D1-80B4-00C04FD430C8",
		id[:],
		ts,
		int64(42),
		nil,
		true,
	})
	if err != nil {
		t.Fatalf("Row: %v", err)
	}

	if row[0] != `{"a":1}` {
		t.Errorf("json bytes should become text, got %#v", row[0])
	}
	if row[1] != "12.50" {
		t.Errorf("numeric bytes should become text, got %#v", row[1])
	}
	if b, ok := row[2].([]byte); !ok || !bytes.Equal(b, []byte{0xde, 0xad}) {
		t.Errorf("binary should pass through, got %#v", row[2])
	}
	for _, v := range row[3:5] {
		if b, ok := v.([]byte); !ok || !bytes.Equal(b, wireUUID) {
			t.Errorf("uuid not in wire order: %#v", v)
		}
	}
	if row[5] != ts {
		t.Errorf("timestamp should pass through, got %#v", row[5])
	}
	if row[6] != "42" {
		t.Errorf("value for text column should be formatted, got %#v", row[6])
	}
	if row[7] != nil || row[8] != true {
		t.Errorf("unexpected %#v %#v", row[7], row[8])
	}
}

func TestCoerceByDestinationType(t *testing.T) {
	tests := []struct {
		name     string
		destType string
		in       any
		want     any
	}{
		{"unconstrained numeric keeps cents", "DECIMAL(38, 10)", "12.34", "12.3400000000"},
		{"numeric rounded to scale", "DECIMAL(10, 2)", []byte("2.675"), "2.68"},
		{"negative rounded away from zero", "DECIMAL(10, 1)", "-0.25", "-0.3"},
		{"bare decimal", "DECIMAL", "7.5", "8"},
		{"exponent", "DECIMAL(12, 3)", "1.5E-3", "0.002"},
		{"integer for decimal", "DECIMAL(10, 2)", int64(5), int64(5)},
		{"money text", "DECIMAL(19, 4)", "$1,234.56", "1234.5600"},
		{"negative money", "DECIMAL(19, 4)", "-$7.00", "-7.0000"},
		{"accounting money", "MONEY", "($7.25)", "-7.2500"},
		{"bit one", "BIT", "1", true},
		{"bit zero bytes", "BIT", []byte("0"), false},
		{"boolean", "BIT", false, false},
		{"varbit", "VARBINARY(MAX)", "101", []byte{0xa0}},
		{"varbit across bytes", "VARBINARY(MAX)", "111111111", []byte{0xff, 0x80}},
		{"empty varbit", "VARBINARY(MAX)", "", []byte{}},
		{"text for binary", "VARBINARY(MAX)", "abc", []byte("abc")},
		{"timetz offset", "TIME", "12:34:56+02", "12:34:56"},
		{"timetz fractional", "TIME", []byte("08:00:00.123-05:30"), "08:00:00.123"},
		{"time without zone", "TIME", "23:59:59", "23:59:59"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row, err := NewCoercer([]string{tt.destType}).Row([]any{tt.in})
			if err != nil {
				t.Fatalf("Row: %v", err)
			}
			if got, ok := row[0].([]byte); ok {
				if want, _ := tt.want.([]byte); !bytes.Equal(got, want) {
					t.Errorf("got %#v, want %#v", got, tt.want)
				}
				return
			}
			if row[0] != tt.want {
				t.Errorf("got %#v (%T), want %#v", row[0], row[0], tt.want)
			}
		})
	}
}

func TestDeclaredScale(t *testing.T) {
	tests := map[string]int{
		"DECIMAL(10, 2)":  2,
		"DECIMAL(38,10)":  10,
		"DECIMAL":         0,
		"DECIMAL(18)":     0,
		"NUMERIC(5, bad)": 0,
	}
	for in, want := range tests {
		if got := declaredScale(in); got != want {
			t.Errorf("declaredScale(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestCoercerErrors(t *testing.T) {
	c := NewCoercer([]string{"UNIQUEIDENTIFIER"})
	if _, err := c.Row([]any{"not-a-uuid"}); err == nil {
		t.Error("expected invalid uuid error")
	}
	if _, err := c.Row([]any{3.5}); err == nil {
		t.Error("expected unsupported type error")
	}
	if _, err := c.Row([]any{"a", "b"}); err == nil {
		t.Error("expected width mismatch error")
	}
	if _, err := NewCoercer([]string{"BIT"}).Row([]any{"maybe"}); err == nil {
		t.Error("expected invalid bit error")
	}
	if _, err := NewCoercer([]string{"DECIMAL(10, 2)"}).Row([]any{"NaN"}); err == nil {
		t.Error("expected invalid decimal error")
	}
}
