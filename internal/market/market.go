package market

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed assets.yaml
var defaultAssets []byte

// TimeLayout is the timestamp format used in every market payload.
const TimeLayout = "2006-01-02 15:04:05 UTC"

// ErrUnknownToken is matched by every UnknownTokenError.
var ErrUnknownToken = errors.New("unknown token")

// UnknownTokenError lists what can be queried instead.
type UnknownTokenError struct {
	Token     string
	Available []string
}

func (e *UnknownTokenError) Error() string {
	return fmt.Sprintf("Token '%s' not found in our database", e.Token)
}

func (e *UnknownTokenError) Is(target error) bool { return target == ErrUnknownToken }

// Asset is one row of the simulated market snapshot.
type Asset struct {
	ID                string  `yaml:"id" json:"-"`
	Symbol            string  `yaml:"symbol" json:"symbol"`
	Name              string  `yaml:"name" json:"name"`
	Price             float64 `yaml:"price" json:"price"`
	MarketCap         float64 `yaml:"market_cap" json:"market_cap"`
	Volume24h         float64 `yaml:"volume_24h" json:"volume_24h"`
	Change1h          float64 `yaml:"change_1h" json:"change_1h"`
	Change24h         float64 `yaml:"change_24h" json:"change_24h"`
	Change7d          float64 `yaml:"change_7d" json:"change_7d"`
	CirculatingSupply float64 `yaml:"circulating_supply" json:"circulating_supply"`
	Rank              int     `yaml:"rank" json:"rank"`
}

type snapshot struct {
	Assets []Asset `yaml:"assets"`
}

// Table answers market queries over a fixed snapshot. It is read-only
// after construction and safe for concurrent use.
type Table struct {
	assets []Asset
	index  map[string]int // lower-case id and symbol => position
	now    func() time.Time
}

// Default returns the embedded snapshot.
func Default() *Table {
	t, err := Load(defaultAssets)
	if err != nil {
		panic(fmt.Sprintf("embedded market snapshot is invalid: %v", err))
	}
	return t
}

// Load parses a YAML snapshot.
func Load(data []byte) (*Table, error) {
	var snap snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse market snapshot: %w", err)
	}
	if len(snap.Assets) == 0 {
		return nil, errors.New("market snapshot has no assets")
	}

	t := &Table{
		assets: snap.Assets,
		index:  make(map[string]int, len(snap.Assets)*2),
		now:    time.Now,
	}
	for i, a := range snap.Assets {
		if a.ID == "" || a.Symbol == "" {
			return nil, fmt.Errorf("asset #%d: id and symbol are required", i)
		}
		id := strings.ToLower(a.ID)
		if _, dup := t.index[id]; dup {
			return nil, fmt.Errorf("duplicate asset id %q", a.ID)
		}
		t.index[id] = i
		sym := strings.ToLower(a.Symbol)
		if _, taken := t.index[sym]; !taken {
			t.index[sym] = i
		}
	}
	return t, nil
}

// WithClock returns a copy of t that reads time from now.
func (t *Table) WithClock(now func() time.Time) *Table {
	cp := *t
	cp.now = now
	return &cp
}

// Len returns the number of assets.
func (t *Table) Len() int { return len(t.assets) }

// Symbols returns every ticker symbol in snapshot order.
func (t *Table) Symbols() []string {
	out := make([]string, len(t.assets))
	for i, a := range t.assets {
		out[i] = a.Symbol
	}
	return out
}

func (t *Table) lookup(token string) (Asset, error) {
	i, ok := t.index[strings.ToLower(strings.TrimSpace(token))]
	if !ok {
		return Asset{}, &UnknownTokenError{Token: token, Available: t.Symbols()}
	}
	return t.assets[i], nil
}

// livePrice applies the small time-based drift the simulation uses.
func (t *Table) livePrice(a Asset, now time.Time) float64 {
	secs := float64(now.UnixNano()) / float64(time.Second)
	variation := math.Mod(secs, 100) / 10000
	return a.Price * (1 + variation - 0.005)
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

// Quote is the answer to a price lookup.
type Quote struct {
	Symbol            string  `json:"symbol"`
	Name              string  `json:"name"`
	Price             float64 `json:"price"`
	Currency          string  `json:"currency"`
	Change1h          float64 `json:"change_1h"`
	Change24h         float64 `json:"change_24h"`
	Change7d          float64 `json:"change_7d"`
	MarketCap         float64 `json:"market_cap"`
	Volume24h         float64 `json:"volume_24h"`
	CirculatingSupply float64 `json:"circulating_supply"`
	Rank              int     `json:"rank"`
	LastUpdated       string  `json:"last_updated"`
}

// Price looks a token up by id or symbol, case-insensitively.
func (t *Table) Price(token, currency string) (Quote, error) {
	a, err := t.lookup(token)
	if err != nil {
		return Quote{}, err
	}
	if currency == "" {
		currency = "USD"
	}
	now := t.now()
	return Quote{
		Symbol:            a.Symbol,
		Name:              a.Name,
		Price:             round2(t.livePrice(a, now)),
		Currency:          currency,
		Change1h:          a.Change1h,
		Change24h:         a.Change24h,
		Change7d:          a.Change7d,
		MarketCap:         a.MarketCap,
		Volume24h:         a.Volume24h,
		CirculatingSupply: a.CirculatingSupply,
		Rank:              a.Rank,
		LastUpdated:       now.UTC().Format(TimeLayout),
	}, nil
}

// Listing is one row of a Top result.
type Listing struct {
	Asset
	CurrentPrice float64 `json:"current_price"`
	LastUpdated  string  `json:"last_updated"`
}

// SortKeys are the accepted sortBy values for Top; anything else sorts by rank.
var SortKeys = []string{"market_cap", "price", "volume_24h", "change_1h", "change_24h", "change_7d"}

func sortValue(a Asset, key string) float64 {
	switch key {
	case "market_cap":
		return a.MarketCap
	case "price":
		return a.Price
	case "volume_24h":
		return a.Volume24h
	case "change_1h":
		return a.Change1h
	case "change_24h":
		return a.Change24h
	case "change_7d":
		return a.Change7d
	default:
		return 0
	}
}

// Top returns up to limit assets ordered by sortBy, descending. Unknown
// keys order by rank ascending.
func (t *Table) Top(limit int, sortBy string) []Listing {
	list := make([]Asset, len(t.assets))
	copy(list, t.assets)

	known := false
	for _, k := range SortKeys {
		if k == sortBy {
			known = true
			break
		}
	}
	if known {
		sort.SliceStable(list, func(i, j int) bool { return sortValue(list[i], sortBy) > sortValue(list[j], sortBy) })
	} else {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Rank < list[j].Rank })
	}

	if limit < 0 {
		limit = 0
	}
	if limit < len(list) {
		list = list[:limit]
	}

	now := t.now()
	stamp := now.UTC().Format(TimeLayout)
	out := make([]Listing, len(list))
	for i, a := range list {
		out[i] = Listing{Asset: a, CurrentPrice: round2(t.livePrice(a, now)), LastUpdated: stamp}
	}
	return out
}

// Mover is one entry of a gainers or losers list.
type Mover struct {
	Symbol          string  `json:"symbol"`
	Name            string  `json:"name"`
	Price           float64 `json:"price"`
	Change          float64 `json:"change"`
	ChangeFormatted string  `json:"change_formatted"`
}

// Movers is the answer to a top movers query.
type Movers struct {
	Period      string  `json:"period"`
	TopGainers  []Mover `json:"top_gainers"`
	TopLosers   []Mover `json:"top_losers"`
	GeneratedAt string  `json:"generated_at"`
}

func changeFor(a Asset, period string) float64 {
	switch period {
	case "1h":
		return a.Change1h
	case "7d":
		return a.Change7d
	default:
		return a.Change24h
	}
}

// Movers returns the biggest gainers and losers over period (1h, 24h or
// 7d; anything else means 24h).
func (t *Table) Movers(period string, limit int) Movers {
	if period != "1h" && period != "7d" {
		period = "24h"
	}
	if limit < 0 {
		limit = 0
	}

	gainers := make([]Asset, len(t.assets))
	copy(gainers, t.assets)
	sort.SliceStable(gainers, func(i, j int) bool { return changeFor(gainers[i], period) > changeFor(gainers[j], period) })

	losers := make([]Asset, len(t.assets))
	copy(losers, t.assets)
	sort.SliceStable(losers, func(i, j int) bool { return changeFor(losers[i], period) < changeFor(losers[j], period) })

	format := func(list []Asset) []Mover {
		if limit < len(list) {
			list = list[:limit]
		}
		out := make([]Mover, len(list))
		for i, a := range list {
			c := changeFor(a, period)
			f := fmt.Sprintf("%.2f%%", c)
			if c > 0 {
				f = "+" + f
			}
			out[i] = Mover{Symbol: a.Symbol, Name: a.Name, Price: a.Price, Change: c, ChangeFormatted: f}
		}
		return out
	}

	return Movers{
		Period:      period,
		TopGainers:  format(gainers),
		TopLosers:   format(losers),
		GeneratedAt: t.now().UTC().Format(TimeLayout),
	}
}
