package game

// Pricing maps a track's current level to the cost of buying the next one.
type Pricing interface {
	UpgradeCost(t Track, currentLevel int) int64
}

// Cost of moving from level i+1 to i+2. The last level of each track has no
// entry, so it prices at zero.
var (
	clickCostPrices = []int64{
		1_000, 2_000, 4_000, 7_500, 12_000,
		18_000, 27_000, 40_000, 60_000, 90_000,
		130_000, 185_000, 260_000, 360_000, 500_000,
		700_000, 1_000_000, 1_400_000, 2_000_000,
	}
	energyCapPrices = []int64{
		2_000, 5_000, 10_000, 20_000, 40_000,
		75_000, 140_000, 260_000, 500_000,
	}
	energyRegenPrices = []int64{
		5_000, 25_000, 100_000, 400_000,
	}
)

type PriceTable struct{}

var DefaultPricing Pricing = PriceTable{}

func (PriceTable) UpgradeCost(t Track, currentLevel int) int64 {
	var table []int64
	switch t {
	case ClickCost:
		table = clickCostPrices
	case EnergyCap:
		table = energyCapPrices
	case EnergyRegen:
		table = energyRegenPrices
	default:
		return 0
	}
	idx := currentLevel - 1
	if idx < 0 || idx >= len(table) {
		return 0
	}
	return table[idx]
}
