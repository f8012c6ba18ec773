package types

import (
	"testing"
	"time"

	"cosmossdk.io/math"
)

func dec(t *testing.T, s string) math.LegacyDec {
	t.Helper()
	d, err := ParseDec(s)
	if err != nil {
		t.Fatalf("ParseDec(%q): %v", s, err)
	}
	return d
}

func TestSide_Opposite(t *testing.T) {
	if SideBuy.Opposite() != SideSell {
		t.Errorf("expected sell, got %v", SideBuy.Opposite())
	}
	if SideSell.Opposite() != SideBuy {
		t.Errorf("expected buy, got %v", SideSell.Opposite())
	}
}

func TestSideOf(t *testing.T) {
	if got := SideOf(dec(t, "300")); got != SideBuy {
		t.Errorf("expected buy for positive amount, got %v", got)
	}
	if got := SideOf(dec(t, "-300")); got != SideSell {
		t.Errorf("expected sell for negative amount, got %v", got)
	}
}

func TestOrder_SignConventions(t *testing.T) {
	sell := &Order{
		ID:         7,
		Amount:     dec(t, "-500"),
		LimitPrice: dec(t, "128"),
		OpenAmount: dec(t, "-500"),
	}

	if sell.IsBuy() {
		t.Error("negative amount should be a sell")
	}
	if !sell.OriginalShares().Equal(dec(t, "500")) {
		t.Errorf("expected 500 original shares, got %s", sell.OriginalShares())
	}
	if !sell.OpenShares().Equal(dec(t, "500")) {
		t.Errorf("expected 500 open shares, got %s", sell.OpenShares())
	}

	// Consuming 200 shares moves a sell's open amount toward zero from below.
	delta := sell.FillDelta(dec(t, "200"))
	if !delta.Equal(dec(t, "200")) {
		t.Errorf("expected +200 delta for sell fill, got %s", delta)
	}
	sell.OpenAmount = sell.OpenAmount.Add(delta)
	if !sell.OpenAmount.Equal(dec(t, "-300")) {
		t.Errorf("expected open -300, got %s", sell.OpenAmount)
	}

	buy := &Order{Amount: dec(t, "400"), OpenAmount: dec(t, "400")}
	if d := buy.FillDelta(dec(t, "100")); !d.Equal(dec(t, "-100")) {
		t.Errorf("expected -100 delta for buy fill, got %s", d)
	}
}

func TestOrder_Status(t *testing.T) {
	o := &Order{Amount: dec(t, "100"), OpenAmount: dec(t, "100")}
	if o.Status() != OrderStatusOpen {
		t.Errorf("expected open, got %v", o.Status())
	}

	o.OpenAmount = dec(t, "40")
	if o.Status() != OrderStatusPartiallyFilled {
		t.Errorf("expected partially filled, got %v", o.Status())
	}

	o.OpenAmount = math.LegacyZeroDec()
	if o.Status() != OrderStatusFilled {
		t.Errorf("expected filled, got %v", o.Status())
	}

	o.CanceledAt = time.Now()
	if o.Status() != OrderStatusCanceled {
		t.Errorf("expected canceled, got %v", o.Status())
	}
	if o.IsOpen() {
		t.Error("canceled order must not be open")
	}
}

func TestOrder_Before(t *testing.T) {
	base := time.Now()
	a := &Order{ID: 1, CreatedAt: base}
	b := &Order{ID: 2, CreatedAt: base.Add(time.Nanosecond)}
	if !a.Before(b) {
		t.Error("earlier creation must win priority")
	}

	// Same instant falls back to the order id.
	c := &Order{ID: 3, CreatedAt: base}
	if !a.Before(c) || c.Before(a) {
		t.Error("equal timestamps must break ties by smaller id")
	}
}

func TestCanceledShares(t *testing.T) {
	o := &Order{Amount: dec(t, "-500"), OpenAmount: math.LegacyZeroDec()}
	execs := []*Execution{
		{OrderID: 1, Shares: dec(t, "200"), Price: dec(t, "127")},
		{OrderID: 1, Shares: dec(t, "100"), Price: dec(t, "125")},
	}
	if got := o.CanceledShares(execs); !got.Equal(dec(t, "200")) {
		t.Errorf("expected 200 canceled shares, got %s", got)
	}
}

func TestParseDec(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "125", want: "125"},
		{in: "-300", want: "-300"},
		{in: "0.5", want: "0.5"},
		{in: " 42 ", want: "42"},
		{in: "", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "1e5", wantErr: true},
	}
	for _, tc := range cases {
		d, err := ParseDec(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseDec(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseDec(%q): %v", tc.in, err)
			continue
		}
		if got := FormatDec(d); got != tc.want {
			t.Errorf("ParseDec(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestFormatDec(t *testing.T) {
	cases := map[string]string{
		"125":                 "125",
		"125.5":               "125.5",
		"0":                   "0",
		"-0.25":               "-0.25",
		"100.000000000000000": "100",
		"50400":               "50400",
	}
	for in, want := range cases {
		if got := FormatDec(dec(t, in)); got != want {
			t.Errorf("FormatDec(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestValidateAccountID(t *testing.T) {
	valid := []string{"1", "123", "000", "9999999999"}
	for _, id := range valid {
		if err := ValidateAccountID(id); err != nil {
			t.Errorf("ValidateAccountID(%q): %v", id, err)
		}
	}
	invalid := []string{"", "abc", "12a", "-1", "1.5", " 1"}
	for _, id := range invalid {
		if err := ValidateAccountID(id); err == nil {
			t.Errorf("ValidateAccountID(%q): expected error", id)
		}
	}
}
