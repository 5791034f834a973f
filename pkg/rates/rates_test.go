package rates

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockSource struct {
	rates map[string]decimal.Decimal
	err   error
}

func (m *mockSource) Rates(ctx context.Context) (map[string]decimal.Decimal, error) {
	return m.rates, m.err
}

func TestSolRates_Refresh(t *testing.T) {
	source := &mockSource{rates: map[string]decimal.Decimal{
		"usd": decimal.RequireFromString("150.25"),
		"EUR": decimal.RequireFromString("140"),
	}}
	r := New(source, zap.NewNop())
	r.Refresh(context.Background())

	got := r.GetRates()
	require.Len(t, got, 2)
	require.True(t, got["USD"].Equal(decimal.RequireFromString("150.25")))

	source.err = errors.New("backend is down")
	source.rates = nil
	r.Refresh(context.Background())
	require.Len(t, r.GetRates(), 2)
}

func TestSolRates_Convert(t *testing.T) {
	r := New(&mockSource{rates: map[string]decimal.Decimal{"USD": decimal.RequireFromString("150")}}, zap.NewNop())
	r.Refresh(context.Background())

	tests := []struct {
		name     string
		lamports uint64
		currency string
		want     string
		wantErr  bool
	}{
		{name: "one sol", lamports: 1_000_000_000, currency: "usd", want: "150"},
		{name: "fraction", lamports: 12_345_678, currency: "USD", want: "1.85"},
		{name: "unknown", lamports: 1, currency: "XYZ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Convert(tt.lamports, tt.currency)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUnknownCurrency)
				return
			}
			require.Nil(t, err)
			require.Equal(t, tt.want, got.String())
		})
	}
}

func TestFormatSOL(t *testing.T) {
	tests := []struct {
		amount uint64
		want   string
	}{
		{amount: 33000_544_000_000, want: "33,000.544"},
		{amount: 33000_000_000_000, want: "33,000"},
		{amount: 1_000_000_000, want: "1"},
		{amount: 1_000_000, want: "0.001"},
		{amount: 5_000, want: "0.000005"},
		{amount: 566_450_333_222_111, want: "566,450.333222111"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			require.Equal(t, tt.want, FormatSOL(tt.amount))
		})
	}
}

func TestParseSOL(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{in: "1", want: 1_000_000_000},
		{in: "0.5", want: 500_000_000},
		{in: "0.000000001", want: 1},
		{in: "0.0000000001", wantErr: true},
		{in: "0", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "abc", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSOL(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.Nil(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}
