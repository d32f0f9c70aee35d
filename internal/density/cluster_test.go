package density

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/rewired-gh/densityscope/internal/models"
)

func bid(price, notional float64) models.Level {
	return models.Level{Side: models.SideBid, Price: price, Notional: notional, DistancePct: math.Abs(100-price) / 100 * 100}
}

func TestPartition_GreedyGaps(t *testing.T) {
	levels := []models.Level{bid(99.0, 1), bid(99.1, 1), bid(99.15, 1), bid(98.0, 1), bid(97.0, 1), bid(97.1, 1)}
	runs := Partition(levels, 0.2)
	if len(runs) != 3 {
		t.Fatalf("got %d runs, want 3: %+v", len(runs), runs)
	}
	sizes := []int{runs[0].Len(), runs[1].Len(), runs[2].Len()}
	if sizes[0] != 2 || sizes[1] != 1 || sizes[2] != 3 {
		t.Errorf("run sizes = %v, want [2 1 3]", sizes)
	}

	clusters := Clusters(levels, 0.2)
	if len(clusters) != 2 {
		t.Errorf("got %d clusters, want 2 (singleton dropped)", len(clusters))
	}
}

func TestPartition_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 300; i++ {
		n := 1 + rng.Intn(40)
		levels := make([]models.Level, n)
		for j := range levels {
			levels[j] = bid(90+rng.Float64()*10, 1000+rng.Float64()*1000)
			levels[j].Quantity = float64(j) // identity tag
		}
		gap := 0.05 + rng.Float64()

		runs := Partition(levels, gap)
		seen := make(map[float64]int)
		total := 0
		for _, run := range runs {
			total += run.Len()
			for k, l := range run.Levels {
				seen[l.Quantity]++
				if k > 0 && gapPct(run.Levels[k-1].Price, l.Price) > gap {
					t.Fatalf("case %d: gap inside run exceeds %v", i, gap)
				}
			}
		}
		if total != n || len(seen) != n {
			t.Fatalf("case %d: %d levels placed, %d distinct, want %d", i, total, len(seen), n)
		}
		for tag, c := range seen {
			if c != 1 {
				t.Fatalf("case %d: level %v placed %d times", i, tag, c)
			}
		}
		for _, c := range Clusters(levels, gap) {
			if c.Len() < 2 {
				t.Fatalf("case %d: singleton promoted to cluster", i)
			}
		}
	}
}

func TestMarketMakerBase(t *testing.T) {
	p := DefaultParams()

	t.Run("median of valid clusters", func(t *testing.T) {
		levels := []models.Level{
			bid(50.0, 30000), bid(50.05, 30000), // 60k
			bid(60.0, 50000), bid(60.05, 50000), // 100k
			bid(70.0, 100000), bid(70.05, 100000), // 200k
			bid(80.0, 5000), bid(80.05, 5000), // below minimum notional
		}
		if got := MarketMakerBase(levels, p, 1); got != 100000 {
			t.Errorf("mmBase = %v, want 100000", got)
		}
	})

	t.Run("falls back to baseline", func(t *testing.T) {
		levels := []models.Level{bid(50, 30000), bid(60, 30000)}
		if got := MarketMakerBase(levels, p, 12345); got != 12345 {
			t.Errorf("mmBase = %v, want baseline 12345", got)
		}
	})

	t.Run("single cluster", func(t *testing.T) {
		levels := []models.Level{bid(50, 30000), bid(50.05, 40000)}
		if got := MarketMakerBase(levels, p, 1); got != 70000 {
			t.Errorf("mmBase = %v, want 70000", got)
		}
	})
}

func TestDensities_MergesAdjacentLevels(t *testing.T) {
	levels := []models.Level{bid(99.9, 300000), bid(99.6, 200000), bid(97.0, 100000)}
	got := Densities("TESTUSDT", models.SideBid, levels, 0.5, 100000)
	if len(got) != 2 {
		t.Fatalf("got %d densities, want 2", len(got))
	}
	sort.Slice(got, func(i, j int) bool { return got[i].Notional > got[j].Notional })

	wall := got[0]
	if wall.MMCount != 2 || wall.Notional != 500000 || !wall.IsCluster {
		t.Errorf("merged density = %+v", wall)
	}
	if wall.Price != 99.9 {
		t.Errorf("representative price = %v, want nearest-to-mark 99.9", wall.Price)
	}
	if wall.X != 5 {
		t.Errorf("x = %v, want 5", wall.X)
	}
	if got[1].IsCluster || got[1].MMCount != 1 {
		t.Errorf("single level density = %+v", got[1])
	}
}

func TestDensities_ZeroBase(t *testing.T) {
	got := Densities("TESTUSDT", models.SideBid, []models.Level{bid(99, 1000)}, 0.5, 0)
	if len(got) != 1 || got[0].X != 0 {
		t.Errorf("densities = %+v, want x=0", got)
	}
}
