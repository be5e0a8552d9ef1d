// Package oracle adapts an external price-feed HTTP service to the
// lending.Oracle boundary interface. Per spec.md §1 the oracle is out of
// scope for the accounting engine itself; this client is the daemon-side
// plumbing that lets cmd/poold point the engine at a real feed.
package oracle

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"lendingpool/crypto"
	"lendingpool/native/lending"
)

// HTTPOracle calls a configured base URL's REST surface for price samples.
type HTTPOracle struct {
	baseURL    string
	client     *http.Client
	decimals   uint32
	resolution uint32
}

// New constructs an HTTPOracle. decimals/resolutionSecs describe the feed's
// own fixed-point scale and sampling cadence, mirroring the Oracle
// interface's Decimals()/Resolution() contract.
func New(baseURL string, decimals, resolutionSecs uint32) *HTTPOracle {
	return &HTTPOracle{
		baseURL:    baseURL,
		client:     &http.Client{Timeout: 5 * time.Second},
		decimals:   decimals,
		resolution: resolutionSecs,
	}
}

type priceSamplePayload struct {
	Price     string `json:"price"`
	Timestamp uint64 `json:"timestamp"`
}

func (o *HTTPOracle) LastPrice(asset crypto.Address) (lending.PriceSample, error) {
	samples, err := o.fetch(asset, 1)
	if err != nil {
		return lending.PriceSample{}, err
	}
	if len(samples) == 0 {
		return lending.PriceSample{}, lending.ErrInvalidAssetPrice
	}
	return samples[0], nil
}

func (o *HTTPOracle) Prices(asset crypto.Address, records uint32) ([]lending.PriceSample, error) {
	return o.fetch(asset, records)
}

func (o *HTTPOracle) Decimals() (uint32, error)   { return o.decimals, nil }
func (o *HTTPOracle) Resolution() (uint32, error) { return o.resolution, nil }

func (o *HTTPOracle) fetch(asset crypto.Address, records uint32) ([]lending.PriceSample, error) {
	endpoint := fmt.Sprintf("%s/prices/%s?records=%d", o.baseURL, url.PathEscape(asset.String()), records)
	resp, err := o.client.Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("fetch prices: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oracle returned status %d", resp.StatusCode)
	}
	var payload []priceSamplePayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode oracle response: %w", err)
	}
	out := make([]lending.PriceSample, 0, len(payload))
	for _, p := range payload {
		price, ok := new(big.Int).SetString(p.Price, 10)
		if !ok {
			return nil, lending.ErrInvalidAssetPrice
		}
		out = append(out, lending.PriceSample{Price: price, Timestamp: p.Timestamp})
	}
	return out, nil
}
