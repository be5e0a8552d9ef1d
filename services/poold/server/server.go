package server

import (
	"log/slog"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"

	"lendingpool/crypto"
	"lendingpool/native/lending"
)

// Service adapts the lending engine onto an HTTP/JSON surface, the
// transport substitute for spec.md's Pool gRPC interface (see SPEC_FULL.md's
// REDESIGN note: the teacher's generated protobuf stubs are not available in
// this build, so the ambient concerns that would normally ride on gRPC
// middleware — auth, rate limiting, tracing, structured logging — are
// re-homed onto chi middleware instead).
type Service struct {
	engine       *lending.Engine
	logger       *slog.Logger
	oracle       lending.Oracle
	baseDecimals uint32
}

// New constructs a Service wrapping the given engine. oracle and
// baseDecimals feed set_price_feeds admin requests, which rebuild the
// engine's PriceProvider around whatever feed list the caller supplies.
func New(engine *lending.Engine, logger *slog.Logger, priceOracle lending.Oracle, baseDecimals uint32) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{engine: engine, logger: logger, oracle: priceOracle, baseDecimals: baseDecimals}
}

// Routes builds the chi router exposing the pool's operations and queries.
func (s *Service) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/v1/deposit", s.handleDeposit)
	r.Post("/v1/withdraw", s.handleWithdraw)
	r.Post("/v1/borrow", s.handleBorrow)
	r.Post("/v1/repay", s.handleRepay)
	r.Post("/v1/set-as-collateral", s.handleSetAsCollateral)
	r.Post("/v1/liquidate", s.handleLiquidate)
	r.Post("/v1/flash-loan", s.handleFlashLoan)

	r.Post("/v1/admin/init-reserve", s.handleInitReserve)
	r.Post("/v1/admin/configure-as-collateral", s.handleConfigureAsCollateral)
	r.Post("/v1/admin/set-reserve-status", s.handleSetReserveStatus)
	r.Post("/v1/admin/enable-borrowing", s.handleEnableBorrowing)
	r.Post("/v1/admin/set-pause", s.handleSetPause)
	r.Post("/v1/admin/grant-permission", s.handleGrantPermission)
	r.Post("/v1/admin/revoke-permission", s.handleRevokePermission)
	r.Post("/v1/admin/claim-protocol-fee", s.handleClaimProtocolFee)
	r.Post("/v1/admin/set-price-feeds", s.handleSetPriceFeeds)
	r.Post("/v1/admin/set-ir-params", s.handleSetIRParams)
	r.Post("/v1/admin/set-pool-configuration", s.handleSetPoolConfiguration)
	r.Post("/v1/admin/set-grace-period", s.handleSetGracePeriod)

	r.Get("/v1/account/{address}", s.handleAccountPosition)
	r.Get("/v1/reserve/{address}", s.handleGetReserve)
	r.Get("/v1/user-configuration/{address}", s.handleUserConfiguration)
	r.Get("/v1/pool-configuration", s.handlePoolConfiguration)
	r.Get("/v1/pause-info", s.handlePauseInfo)
	r.Get("/v1/price/{address}", s.handleTWAPPrice)
	r.Get("/v1/protocol-fee/{address}", s.handleProtocolFee)

	r.Get("/healthz", s.handleHealthz)

	return r
}

func (s *Service) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseAddressPathParam(w http.ResponseWriter, r *http.Request, key string) (crypto.Address, bool) {
	raw := chi.URLParam(r, key)
	addr, err := crypto.DecodeAddress(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return crypto.Address{}, false
	}
	return addr, true
}

func parseBigInt(w http.ResponseWriter, raw string, field string) (*big.Int, bool) {
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, invalidFieldError(field))
		return nil, false
	}
	return amount, true
}

func invalidFieldError(field string) error {
	return &lending.PoolError{Code: lending.CodeInvalidAmount, Message: "invalid field: " + field}
}

func eventsResponse(events []lending.Event) interface{} {
	out := make([]eventDTO, 0, len(events))
	for _, ev := range events {
		out = append(out, toEventDTO(ev))
	}
	return map[string]interface{}{"events": out}
}
