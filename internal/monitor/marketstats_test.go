package monitor

import (
	"math"
	"testing"

	"github.com/rewired-gh/densityscope/internal/models"
)

func flatCandles(n int) []models.Candle {
	candles := make([]models.Candle, n)
	for i := range candles {
		candles[i] = models.Candle{
			Open:        10,
			High:        11,
			Low:         9,
			Close:       10,
			QuoteVolume: float64(i + 1),
		}
	}
	return candles
}

func TestComputeMarketStats(t *testing.T) {
	stats := ComputeMarketStats(flatCandles(20), 5)

	if math.Abs(stats.NATR-20) > 1e-9 {
		t.Errorf("NATR = %v, want 20", stats.NATR)
	}
	want := []float64{20, 19, 18, 17, 16}
	if len(stats.Volumes) != len(want) {
		t.Fatalf("Volumes = %v, want %v", stats.Volumes, want)
	}
	for i := range want {
		if stats.Volumes[i] != want[i] {
			t.Errorf("Volumes[%d] = %v, want %v", i, stats.Volumes[i], want[i])
		}
	}
	if math.Abs(stats.VolumePerMinute-90.0/25) > 1e-9 {
		t.Errorf("VolumePerMinute = %v, want %v", stats.VolumePerMinute, 90.0/25)
	}
}

func TestComputeMarketStats_TooFewCandles(t *testing.T) {
	stats := ComputeMarketStats(flatCandles(4), 5)
	if stats.NATR != 0 || stats.VolumePerMinute != 0 || stats.Volumes != nil {
		t.Errorf("expected zero stats, got %+v", stats)
	}
}

func TestNATR_UsesGapsFromPreviousClose(t *testing.T) {
	candles := []models.Candle{
		{High: 10, Low: 10, Close: 10},
		// gap up: true range is high minus previous close
		{High: 14, Low: 13, Close: 13},
		{High: 13, Low: 12, Close: 12},
	}
	// TRs: 4, 1; mean 2.5 over last close 12
	want := 2.5 / 12 * 100
	if got := NATR(candles); math.Abs(got-want) > 1e-9 {
		t.Errorf("NATR = %v, want %v", got, want)
	}
}

func TestNATR_WindowCapped(t *testing.T) {
	candles := flatCandles(30)
	// An early spike outside the 14-candle window must not count.
	candles[2].High = 100
	if got := NATR(candles); math.Abs(got-20) > 1e-9 {
		t.Errorf("NATR = %v, want 20", got)
	}
}

func TestIntervalMinutes(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"1m", 1}, {"5m", 5}, {"1h", 60}, {"1d", 1440}, {"bogus", 5},
	}
	for _, tt := range tests {
		if got := intervalMinutes(tt.in); got != tt.want {
			t.Errorf("intervalMinutes(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
