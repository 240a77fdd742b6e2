package money

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		major     string
		currency  string
		wantMinor int64
		wantErr   bool
	}{
		{"10.50 RUB", "10.50", "RUB", 1050, false},
		{"0.01 RUB", "0.01", "rub", 1, false},
		{"100 RUB", "100", "RUB", 10000, false},
		{"zero is rejected", "0.00", "RUB", 0, true},
		{"negative is rejected", "-5.25", "RUB", 0, true},
		{"too many decimal points", "10.50.30", "RUB", 0, true},
		{"too many fractional digits", "10.505", "RUB", 0, true},
		{"not a number", "abc", "RUB", 0, true},
		{"missing currency", "10.00", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.major, tt.currency)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.Minor != tt.wantMinor {
				t.Errorf("Parse() minor = %d, want %d", got.Minor, tt.wantMinor)
			}
		})
	}
}

func TestAmountString(t *testing.T) {
	tests := []struct {
		amount Amount
		want   string
	}{
		{Amount{Currency: "RUB", Minor: 1050}, "10.50"},
		{Amount{Currency: "RUB", Minor: 1}, "0.01"},
		{Amount{Currency: "RUB", Minor: 10000}, "100.00"},
	}

	for _, tt := range tests {
		got := tt.amount.String()
		if got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestParseRoundTrip(t *testing.T) {
	amount, err := Parse("125.00", "RUB")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if amount.String() != "125.00" {
		t.Errorf("round trip = %q, want 125.00", amount.String())
	}
}
