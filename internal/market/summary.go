package market

import "sort"

// Sentiment thresholds on the average 24h change, in percent.
const (
	strongThreshold = 2.0
	mildThreshold   = 0.5
)

// Sentiment classifies an average 24h change.
func Sentiment(avgChange24h float64) string {
	switch {
	case avgChange24h > strongThreshold:
		return "strongly bullish"
	case avgChange24h > mildThreshold:
		return "bullish"
	case avgChange24h < -strongThreshold:
		return "strongly bearish"
	case avgChange24h < -mildThreshold:
		return "bearish"
	default:
		return "neutral"
	}
}

type Overview struct {
	TotalMarketCap   float64 `json:"total_market_cap"`
	TotalVolume24h   float64 `json:"total_volume_24h"`
	AverageChange1h  float64 `json:"average_change_1h"`
	AverageChange24h float64 `json:"average_change_24h"`
	AverageChange7d  float64 `json:"average_change_7d"`
	MarketSentiment  string  `json:"market_sentiment"`
}

type Leader struct {
	Symbol    string   `json:"symbol"`
	Name      string   `json:"name"`
	MarketCap *float64 `json:"market_cap,omitempty"`
	Volume24h *float64 `json:"volume_24h,omitempty"`
	Price     float64  `json:"price"`
}

type Leaders struct {
	LargestByMarketCap Leader `json:"largest_by_market_cap"`
	HighestVolume      Leader `json:"highest_volume"`
}

type Breadth struct {
	TotalCryptocurrencies int `json:"total_cryptocurrencies"`
	Gainers1h             int `json:"gainers_1h"`
	Losers1h              int `json:"losers_1h"`
	Gainers24h            int `json:"gainers_24h"`
	Losers24h             int `json:"losers_24h"`
	Gainers7d             int `json:"gainers_7d"`
	Losers7d              int `json:"losers_7d"`
}

type Performers struct {
	Best1h   string `json:"best_1h"`
	Best24h  string `json:"best_24h"`
	Best7d   string `json:"best_7d"`
	Worst1h  string `json:"worst_1h"`
	Worst24h string `json:"worst_24h"`
	Worst7d  string `json:"worst_7d"`
}

// Summary is the market-wide overview.
type Summary struct {
	MarketOverview Overview   `json:"market_overview"`
	MarketLeaders  Leaders    `json:"market_leaders"`
	MarketBreadth  Breadth    `json:"market_breadth"`
	TopPerformers  Performers `json:"top_performers"`
	GeneratedAt    string     `json:"generated_at"`
	DataSource     string     `json:"data_source"`
}

func extremes(assets []Asset, value func(Asset) float64) (best, worst string) {
	hi, lo := assets[0], assets[0]
	for _, a := range assets[1:] {
		if value(a) > value(hi) {
			hi = a
		}
		if value(a) < value(lo) {
			lo = a
		}
	}
	return hi.Symbol, lo.Symbol
}

func breadth(assets []Asset, value func(Asset) float64) (gainers, losers int) {
	for _, a := range assets {
		switch v := value(a); {
		case v > 0:
			gainers++
		case v < 0:
			losers++
		}
	}
	return gainers, losers
}

// Summary aggregates the whole snapshot.
func (t *Table) Summary() Summary {
	var s Summary
	n := float64(len(t.assets))

	var sum1h, sum24h, sum7d float64
	topCap, topVol := t.assets[0], t.assets[0]
	for _, a := range t.assets {
		s.MarketOverview.TotalMarketCap += a.MarketCap
		s.MarketOverview.TotalVolume24h += a.Volume24h
		sum1h += a.Change1h
		sum24h += a.Change24h
		sum7d += a.Change7d
		if a.MarketCap > topCap.MarketCap {
			topCap = a
		}
		if a.Volume24h > topVol.Volume24h {
			topVol = a
		}
	}

	avg24h := sum24h / n
	s.MarketOverview.AverageChange1h = round2(sum1h / n)
	s.MarketOverview.AverageChange24h = round2(avg24h)
	s.MarketOverview.AverageChange7d = round2(sum7d / n)
	s.MarketOverview.MarketSentiment = Sentiment(avg24h)

	capV, volV := topCap.MarketCap, topVol.Volume24h
	s.MarketLeaders = Leaders{
		LargestByMarketCap: Leader{Symbol: topCap.Symbol, Name: topCap.Name, MarketCap: &capV, Price: topCap.Price},
		HighestVolume:      Leader{Symbol: topVol.Symbol, Name: topVol.Name, Volume24h: &volV, Price: topVol.Price},
	}

	c1h := func(a Asset) float64 { return a.Change1h }
	c24h := func(a Asset) float64 { return a.Change24h }
	c7d := func(a Asset) float64 { return a.Change7d }

	s.MarketBreadth.TotalCryptocurrencies = len(t.assets)
	s.MarketBreadth.Gainers1h, s.MarketBreadth.Losers1h = breadth(t.assets, c1h)
	s.MarketBreadth.Gainers24h, s.MarketBreadth.Losers24h = breadth(t.assets, c24h)
	s.MarketBreadth.Gainers7d, s.MarketBreadth.Losers7d = breadth(t.assets, c7d)

	s.TopPerformers.Best1h, s.TopPerformers.Worst1h = extremes(t.assets, c1h)
	s.TopPerformers.Best24h, s.TopPerformers.Worst24h = extremes(t.assets, c24h)
	s.TopPerformers.Best7d, s.TopPerformers.Worst7d = extremes(t.assets, c7d)

	s.GeneratedAt = t.now().UTC().Format(TimeLayout)
	s.DataSource = "KiloMarket Crypto Agent (Updated Market Data)"
	return s
}

// Detail is the full view of one asset.
type Detail struct {
	Symbol                string             `json:"symbol"`
	Name                  string             `json:"name"`
	CurrentPrice          float64            `json:"current_price"`
	MarketCap             float64            `json:"market_cap"`
	FullyDilutedValuation float64            `json:"fully_diluted_valuation"`
	Volume24h             float64            `json:"volume_24h"`
	CirculatingSupply     float64            `json:"circulating_supply"`
	TotalSupply           float64            `json:"total_supply"`
	MaxSupply             float64            `json:"max_supply"`
	PriceChanges          map[string]float64 `json:"price_changes"`
	MarketMetrics         DetailMetrics      `json:"market_metrics"`
	Performance           DetailPerformance  `json:"performance_indicators"`
	LastUpdated           string             `json:"last_updated"`
	DataNote              string             `json:"data_note"`
}

type DetailMetrics struct {
	MarketCapRank          int     `json:"market_cap_rank"`
	MarketCapToVolumeRatio float64 `json:"market_cap_to_volume_ratio"`
	VolumeRank             int     `json:"volume_rank"`
}

type DetailPerformance struct {
	IsGainer1h      bool    `json:"is_gainer_1h"`
	IsGainer24h     bool    `json:"is_gainer_24h"`
	IsGainer7d      bool    `json:"is_gainer_7d"`
	VolatilityScore float64 `json:"volatility_score"`
}

// Detail returns every metric known for token.
func (t *Table) Detail(token string) (Detail, error) {
	a, err := t.lookup(token)
	if err != nil {
		ute := err.(*UnknownTokenError)
		sort.Strings(ute.Available)
		return Detail{}, ute
	}

	now := t.now()
	price := t.livePrice(a, now)

	ratio := 0.0
	if a.Volume24h > 0 {
		ratio = a.MarketCap / a.Volume24h
	}
	fdv := a.MarketCap
	if a.CirculatingSupply > 0 {
		fdv = price * a.CirculatingSupply
	}

	byVolume := make([]Asset, len(t.assets))
	copy(byVolume, t.assets)
	sort.SliceStable(byVolume, func(i, j int) bool { return byVolume[i].Volume24h > byVolume[j].Volume24h })
	volumeRank := 0
	for i, v := range byVolume {
		if v.ID == a.ID {
			volumeRank = i + 1
			break
		}
	}

	abs := func(v float64) float64 {
		if v < 0 {
			return -v
		}
		return v
	}

	return Detail{
		Symbol:                a.Symbol,
		Name:                  a.Name,
		CurrentPrice:          round2(price),
		MarketCap:             a.MarketCap,
		FullyDilutedValuation: fdv,
		Volume24h:             a.Volume24h,
		CirculatingSupply:     a.CirculatingSupply,
		TotalSupply:           a.CirculatingSupply,
		MaxSupply:             a.CirculatingSupply,
		PriceChanges:          map[string]float64{"1h": a.Change1h, "24h": a.Change24h, "7d": a.Change7d},
		MarketMetrics: DetailMetrics{
			MarketCapRank:          a.Rank,
			MarketCapToVolumeRatio: round2(ratio),
			VolumeRank:             volumeRank,
		},
		Performance: DetailPerformance{
			IsGainer1h:      a.Change1h > 0,
			IsGainer24h:     a.Change24h > 0,
			IsGainer7d:      a.Change7d > 0,
			VolatilityScore: abs(a.Change24h) + abs(a.Change7d),
		},
		LastUpdated: now.UTC().Format(TimeLayout),
		DataNote:    "Price includes small real-time variation for simulation",
	}, nil
}
