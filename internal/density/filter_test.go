package density

import (
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/rewired-gh/densityscope/internal/models"
)

func entry(price, qty string) models.BookEntry {
	return models.BookEntry{Price: decimal.RequireFromString(price), Quantity: decimal.RequireFromString(qty)}
}

func TestFilterSnapshot(t *testing.T) {
	book := models.OrderBook{
		Symbol: "TESTUSDT",
		Bids: []models.BookEntry{
			entry("99.9", "1000"),  // 99,900 at 0.1%
			entry("99.5", "10"),    // below min notional
			entry("90", "2000"),    // 10% away
			entry("99.00", "1000"), // 99,000 at 1%
			entry("98", "0"),       // empty
		},
		Asks: []models.BookEntry{
			entry("100.2", "1000"), // 100,200 at 0.2%
			entry("103", "1000"),   // 3% away
		},
	}

	bids, asks, err := FilterSnapshot(100, book, 50000, 2)
	if err != nil {
		t.Fatalf("FilterSnapshot: %v", err)
	}
	if len(bids) != 2 {
		t.Fatalf("got %d bids, want 2: %+v", len(bids), bids)
	}
	if len(asks) != 1 {
		t.Fatalf("got %d asks, want 1: %+v", len(asks), asks)
	}

	if bids[0].Price != 99.9 || bids[0].Notional != 99900 {
		t.Errorf("first bid = %+v", bids[0])
	}
	if math.Abs(bids[0].DistancePct-0.1) > 1e-9 {
		t.Errorf("bid distance = %f, want 0.1", bids[0].DistancePct)
	}
	if bids[1].PriceKey != "99" {
		t.Errorf("price key = %q, want canonical %q", bids[1].PriceKey, "99")
	}
	if asks[0].Side != models.SideAsk || math.Abs(asks[0].DistancePct-0.2) > 1e-9 {
		t.Errorf("ask = %+v", asks[0])
	}
}

func TestFilterSnapshot_NoMarkPrice(t *testing.T) {
	book := models.OrderBook{Bids: []models.BookEntry{entry("1", "1")}}
	for _, mark := range []float64{0, -1, math.NaN()} {
		if _, _, err := FilterSnapshot(mark, book, 0, 5); !errors.Is(err, ErrNoMarkPrice) {
			t.Errorf("mark %v: err = %v, want ErrNoMarkPrice", mark, err)
		}
	}
}

func TestDistancePct(t *testing.T) {
	if d := DistancePct(models.SideBid, 200, 198); math.Abs(d-1) > 1e-9 {
		t.Errorf("bid distance = %f, want 1", d)
	}
	if d := DistancePct(models.SideAsk, 200, 203); math.Abs(d-1.5) > 1e-9 {
		t.Errorf("ask distance = %f, want 1.5", d)
	}
}
