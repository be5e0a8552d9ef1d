package server

import (
	"math/big"
	"net/http"

	"lendingpool/crypto"
	"lendingpool/native/lending"
)

type initReserveRequest struct {
	Admin        string `json:"admin"`
	Asset        string `json:"asset"`
	ReserveType  int    `json:"reserve_type"`
	LiquidityCap string `json:"liquidity_cap"`
	Decimals     uint32 `json:"decimals"`
}

func (s *Service) handleInitReserve(w http.ResponseWriter, r *http.Request) {
	var req initReserveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	admin, err := crypto.DecodeAddress(req.Admin)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	asset, err := crypto.DecodeAddress(req.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	liquidityCap := big.NewInt(0)
	if req.LiquidityCap != "" {
		var ok bool
		liquidityCap, ok = parseBigInt(w, req.LiquidityCap, "liquidity_cap")
		if !ok {
			return
		}
	}
	cfg := lending.ReserveConfiguration{LiquidityCap: liquidityCap, Decimals: req.Decimals}
	if err := s.engine.InitReserve(admin, asset, lending.ReserveType(req.ReserveType), cfg); err != nil {
		translateEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type configureAsCollateralRequest struct {
	Admin       string `json:"admin"`
	Asset       string `json:"asset"`
	PenOrder    uint32 `json:"pen_order"`
	UtilCapBps  uint32 `json:"util_cap_bps"`
	DiscountBps uint32 `json:"discount_bps"`
}

func (s *Service) handleConfigureAsCollateral(w http.ResponseWriter, r *http.Request) {
	var req configureAsCollateralRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	admin, err := crypto.DecodeAddress(req.Admin)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	asset, err := crypto.DecodeAddress(req.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.ConfigureAsCollateral(admin, asset, req.PenOrder, req.UtilCapBps, req.DiscountBps); err != nil {
		translateEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type setReserveStatusRequest struct {
	Admin  string `json:"admin"`
	Asset  string `json:"asset"`
	Active bool   `json:"active"`
}

func (s *Service) handleSetReserveStatus(w http.ResponseWriter, r *http.Request) {
	var req setReserveStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	admin, err := crypto.DecodeAddress(req.Admin)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	asset, err := crypto.DecodeAddress(req.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.SetReserveStatus(admin, asset, req.Active); err != nil {
		translateEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type enableBorrowingRequest struct {
	Admin   string `json:"admin"`
	Asset   string `json:"asset"`
	Enabled bool   `json:"enabled"`
}

func (s *Service) handleEnableBorrowing(w http.ResponseWriter, r *http.Request) {
	var req enableBorrowingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	admin, err := crypto.DecodeAddress(req.Admin)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	asset, err := crypto.DecodeAddress(req.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.EnableBorrowingOnReserve(admin, asset, req.Enabled); err != nil {
		translateEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type setPauseRequest struct {
	Admin  string `json:"admin"`
	Paused bool   `json:"paused"`
}

func (s *Service) handleSetPause(w http.ResponseWriter, r *http.Request) {
	var req setPauseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	admin, err := crypto.DecodeAddress(req.Admin)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.SetPause(admin, req.Paused, now()); err != nil {
		translateEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type permissionRequest struct {
	Admin      string `json:"admin"`
	Who        string `json:"who"`
	Permission int    `json:"permission"`
}

func (s *Service) handleGrantPermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	admin, err := crypto.DecodeAddress(req.Admin)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	who, err := crypto.DecodeAddress(req.Who)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.GrantPermission(admin, who, lending.Permission(req.Permission)); err != nil {
		translateEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleRevokePermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	admin, err := crypto.DecodeAddress(req.Admin)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	who, err := crypto.DecodeAddress(req.Who)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.RevokePermission(admin, who, lending.Permission(req.Permission)); err != nil {
		translateEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type claimProtocolFeeRequest struct {
	Admin string `json:"admin"`
	Asset string `json:"asset"`
}

func (s *Service) handleClaimProtocolFee(w http.ResponseWriter, r *http.Request) {
	var req claimProtocolFeeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	admin, err := crypto.DecodeAddress(req.Admin)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	asset, err := crypto.DecodeAddress(req.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	claimed, err := s.engine.ClaimProtocolFee(admin, asset)
	if err != nil {
		translateEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"claimed": stringOrZero(claimed)})
}

type assetFeedRequest struct {
	Asset              string `json:"asset"`
	Decimals           uint32 `json:"decimals"`
	TWAPRecords        uint32 `json:"twap_records"`
	TimestampIsMillis  bool   `json:"timestamp_is_millis"`
	MinSanityPriceBase string `json:"min_sanity_price_base"`
	MaxSanityPriceBase string `json:"max_sanity_price_base"`
}

type setPriceFeedsRequest struct {
	Admin string             `json:"admin"`
	Feeds []assetFeedRequest `json:"feeds"`
}

func (s *Service) handleSetPriceFeeds(w http.ResponseWriter, r *http.Request) {
	var req setPriceFeedsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	admin, err := crypto.DecodeAddress(req.Admin)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if s.oracle == nil {
		writeError(w, http.StatusServiceUnavailable, invalidFieldError("oracle not configured"))
		return
	}
	feeds := make([]lending.AssetFeedConfig, 0, len(req.Feeds))
	for _, f := range req.Feeds {
		asset, err := crypto.DecodeAddress(f.Asset)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		feed := lending.AssetFeedConfig{
			Asset:             asset,
			Decimals:          f.Decimals,
			TWAPRecords:       f.TWAPRecords,
			TimestampIsMillis: f.TimestampIsMillis,
		}
		if f.MinSanityPriceBase != "" {
			minPrice, ok := parseBigInt(w, f.MinSanityPriceBase, "min_sanity_price_base")
			if !ok {
				return
			}
			feed.MinSanityPriceBase = minPrice
		}
		if f.MaxSanityPriceBase != "" {
			maxPrice, ok := parseBigInt(w, f.MaxSanityPriceBase, "max_sanity_price_base")
			if !ok {
				return
			}
			feed.MaxSanityPriceBase = maxPrice
		}
		if err := feed.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		feeds = append(feeds, feed)
	}
	provider := lending.NewPriceProvider(s.oracle, s.baseDecimals, feeds)
	if err := s.engine.SetPriceFeeds(admin, provider); err != nil {
		translateEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type setIRParamsRequest struct {
	Admin        string `json:"admin"`
	Alpha        int64  `json:"alpha"`
	InitialRate  int64  `json:"initial_rate_bps"`
	MaxRate      int64  `json:"max_rate_bps"`
	ScalingCoeff int64  `json:"scaling_coeff_bps"`
}

func (s *Service) handleSetIRParams(w http.ResponseWriter, r *http.Request) {
	var req setIRParamsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	admin, err := crypto.DecodeAddress(req.Admin)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	params := lending.IRParams{Alpha: req.Alpha, InitialRate: req.InitialRate, MaxRate: req.MaxRate, ScalingCoeff: req.ScalingCoeff}
	if err := s.engine.SetIRParams(admin, params); err != nil {
		translateEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type setPoolConfigurationRequest struct {
	Admin                  string `json:"admin"`
	BaseAsset              string `json:"base_asset"`
	BaseAssetDecimals      uint32 `json:"base_asset_decimals"`
	InitialHealthBps       uint32 `json:"initial_health_bps"`
	TimestampWindowSeconds uint64 `json:"timestamp_window_seconds"`
	FlashLoanFeeBps        uint32 `json:"flash_loan_fee_bps"`
	UserAssetsLimit        int    `json:"user_assets_limit"`
	LiquidationProtocolFee uint32 `json:"liquidation_protocol_fee_bps"`
}

func (s *Service) handleSetPoolConfiguration(w http.ResponseWriter, r *http.Request) {
	var req setPoolConfigurationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	admin, err := crypto.DecodeAddress(req.Admin)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	baseAsset, err := crypto.DecodeAddress(req.BaseAsset)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	current := s.engine.PoolConfiguration()
	current.BaseAsset = baseAsset
	current.BaseAssetDecimals = req.BaseAssetDecimals
	current.InitialHealthBps = req.InitialHealthBps
	current.TimestampWindowSeconds = req.TimestampWindowSeconds
	current.FlashLoanFeeBps = req.FlashLoanFeeBps
	current.UserAssetsLimit = req.UserAssetsLimit
	current.LiquidationProtocolFee = req.LiquidationProtocolFee
	if err := s.engine.SetPoolConfiguration(admin, current); err != nil {
		translateEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type setGracePeriodRequest struct {
	Admin string `json:"admin"`
	Secs  uint64 `json:"secs"`
}

func (s *Service) handleSetGracePeriod(w http.ResponseWriter, r *http.Request) {
	var req setGracePeriodRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	admin, err := crypto.DecodeAddress(req.Admin)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.SetGracePeriod(admin, req.Secs); err != nil {
		translateEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
