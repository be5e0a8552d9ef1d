package lending

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"lendingpool/crypto"
)

func TestPriceProviderGetPriceMedian(t *testing.T) {
	asset := testAddress(1)
	oracle := &fixedSampleOracle{samples: []*big.Int{
		big.NewInt(990_000_000),
		big.NewInt(1_000_000_000),
		big.NewInt(1_050_000_000),
	}}
	provider := NewPriceProvider(oracle, 9, []AssetFeedConfig{{Asset: asset, Decimals: 9, TWAPRecords: 3}})

	price, err := provider.GetPrice(asset)
	require.NoError(t, err)
	require.Equal(t, 0, price.Cmp(big.NewInt(1_000_000_000)))
}

func TestPriceProviderRejectsOutOfSanityRange(t *testing.T) {
	asset := testAddress(1)
	oracle := &fixedSampleOracle{samples: []*big.Int{big.NewInt(10_000_000_000)}}
	provider := NewPriceProvider(oracle, 9, []AssetFeedConfig{
		{Asset: asset, Decimals: 9, TWAPRecords: 1, MaxSanityPriceBase: big.NewInt(5_000_000_000)},
	})

	_, err := provider.GetPrice(asset)
	require.ErrorIs(t, err, ErrInvalidAssetPrice)
}

func TestPriceProviderRejectsUnknownAsset(t *testing.T) {
	provider := NewPriceProvider(&fixedSampleOracle{}, 9, nil)
	_, err := provider.GetPrice(testAddress(9))
	require.ErrorIs(t, err, ErrInvalidAssetPrice)
}

func TestPriceProviderConvertToBase(t *testing.T) {
	asset := testAddress(1)
	oracle := &fixedSampleOracle{samples: []*big.Int{big.NewInt(2_000_000_000)}} // 2.0
	provider := NewPriceProvider(oracle, 9, []AssetFeedConfig{{Asset: asset, Decimals: 9, TWAPRecords: 1}})

	base, err := provider.ConvertToBase(asset, big.NewInt(500_000_000)) // 0.5 units
	require.NoError(t, err)
	require.Equal(t, 0, base.Cmp(big.NewInt(1_000_000_000))) // 0.5 * 2.0 == 1.0
}

// fixedSampleOracle returns the same fixed slice of samples for every asset
// queried, letting a test control the exact TWAP window contents.
type fixedSampleOracle struct {
	samples []*big.Int
}

func (o *fixedSampleOracle) LastPrice(asset crypto.Address) (PriceSample, error) {
	if len(o.samples) == 0 {
		return PriceSample{}, ErrInvalidAssetPrice
	}
	return PriceSample{Price: o.samples[0]}, nil
}

func (o *fixedSampleOracle) Prices(asset crypto.Address, records uint32) ([]PriceSample, error) {
	out := make([]PriceSample, len(o.samples))
	for i, p := range o.samples {
		out[i] = PriceSample{Price: p, Timestamp: uint64(i)}
	}
	return out, nil
}

func (o *fixedSampleOracle) Decimals() (uint32, error)   { return 9, nil }
func (o *fixedSampleOracle) Resolution() (uint32, error) { return 1, nil }
