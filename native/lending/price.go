package lending

import (
	"math/big"
	"sort"

	"lendingpool/crypto"
)

// PriceSample is a single oracle observation, as returned by Oracle.Prices.
type PriceSample struct {
	Price     *big.Int
	Timestamp uint64
}

// Oracle is the external price-feed collaborator consumed per spec.md §6.
// Out of scope for this engine per spec.md §1; this interface is the
// boundary the price provider calls through.
type Oracle interface {
	LastPrice(asset crypto.Address) (PriceSample, error)
	Prices(asset crypto.Address, records uint32) ([]PriceSample, error)
	Decimals() (uint32, error)
	Resolution() (uint32, error) // seconds
}

// AssetFeedConfig is the admin-configured per-asset feed parameters
// (set_price_feeds, spec.md §6).
type AssetFeedConfig struct {
	Asset              crypto.Address
	Decimals           uint32
	TWAPRecords        uint32
	TimestampIsMillis  bool
	MinSanityPriceBase *big.Int
	MaxSanityPriceBase *big.Int
}

// Validate checks the invariants a feed configuration must hold before
// being accepted by set_price_feeds.
func (c AssetFeedConfig) Validate() error {
	if c.Decimals == 0 {
		return ErrInvalidAssetPrice
	}
	if c.TWAPRecords == 0 {
		return ErrInvalidAssetPrice
	}
	return nil
}

// PriceProvider is constructed per operation from the pool's feed
// configuration and resolves TWAP-median prices in base-asset units, per
// spec.md §4.5.
type PriceProvider struct {
	oracle      Oracle
	feeds       map[string]AssetFeedConfig
	baseDecimal uint32
}

// NewPriceProvider builds a provider over the given feed configurations.
func NewPriceProvider(oracle Oracle, baseDecimals uint32, feeds []AssetFeedConfig) *PriceProvider {
	m := make(map[string]AssetFeedConfig, len(feeds))
	for _, f := range feeds {
		m[string(f.Asset.Bytes())] = f
	}
	return &PriceProvider{oracle: oracle, feeds: m, baseDecimal: baseDecimals}
}

// GetPrice fetches the configured TWAP window, takes the median sample,
// rescales it from the oracle's decimals to the base asset's decimals, and
// validates it against the asset's sanity range.
func (p *PriceProvider) GetPrice(asset crypto.Address) (*big.Int, error) {
	cfg, ok := p.feeds[string(asset.Bytes())]
	if !ok {
		return nil, ErrInvalidAssetPrice
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	samples, err := p.oracle.Prices(asset, cfg.TWAPRecords)
	if err != nil {
		return nil, ErrInvalidAssetPrice
	}
	if len(samples) == 0 {
		return nil, ErrInvalidAssetPrice
	}
	prices := make([]*big.Int, len(samples))
	for i, s := range samples {
		if s.Price == nil || s.Price.Sign() <= 0 {
			return nil, ErrInvalidAssetPrice
		}
		prices[i] = s.Price
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i].Cmp(prices[j]) < 0 })
	median := new(big.Int).Set(prices[len(prices)/2])
	oracleDecimals, err := p.oracle.Decimals()
	if err != nil {
		return nil, ErrInvalidAssetPrice
	}
	if p.baseDecimal > oracleDecimals {
		median.Mul(median, bigPow10(p.baseDecimal-oracleDecimals))
	} else if oracleDecimals > p.baseDecimal {
		median.Quo(median, bigPow10(oracleDecimals-p.baseDecimal))
	}

	if cfg.MinSanityPriceBase != nil && median.Cmp(cfg.MinSanityPriceBase) < 0 {
		return nil, ErrInvalidAssetPrice
	}
	if cfg.MaxSanityPriceBase != nil && median.Cmp(cfg.MaxSanityPriceBase) > 0 {
		return nil, ErrInvalidAssetPrice
	}
	return median, nil
}

// ConvertToBase converts `amount` scaled units of `asset` to base-asset
// units: amount * price / 10^asset_decimals, per spec.md §4.5.
func (p *PriceProvider) ConvertToBase(asset crypto.Address, amount *big.Int) (*big.Int, error) {
	cfg, ok := p.feeds[string(asset.Bytes())]
	if !ok {
		return nil, ErrInvalidAssetPrice
	}
	price, err := p.GetPrice(asset)
	if err != nil {
		return nil, err
	}
	num := new(big.Int).Mul(amount, price)
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(cfg.Decimals)), nil)
	return new(big.Int).Quo(num, scale), nil
}
