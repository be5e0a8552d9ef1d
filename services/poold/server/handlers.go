package server

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"lendingpool/crypto"
	"lendingpool/native/lending"
)

func now() uint64 { return uint64(time.Now().Unix()) }

// decodeAuthSig hex-decodes an optional RWA require_auth signature. Empty
// input is valid: it is only consulted by the engine when the target
// reserve is an RWA reserve (Open Question resolution 4, SPEC_FULL.md).
func decodeAuthSig(w http.ResponseWriter, hexSig string) ([]byte, bool) {
	if hexSig == "" {
		return nil, true
	}
	sig, err := hex.DecodeString(hexSig)
	if err != nil {
		writeError(w, http.StatusBadRequest, invalidFieldError("auth_sig"))
		return nil, false
	}
	return sig, true
}

type depositRequest struct {
	Who     string `json:"who"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
	AuthSig string `json:"auth_sig"`
}

func (s *Service) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	who, err := crypto.DecodeAddress(req.Who)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	asset, err := crypto.DecodeAddress(req.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, ok := parseBigInt(w, req.Amount, "amount")
	if !ok {
		return
	}
	authSig, ok := decodeAuthSig(w, req.AuthSig)
	if !ok {
		return
	}
	events, err := s.engine.Deposit(who, asset, amount, now(), authSig)
	if err != nil {
		translateEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse(events))
}

type withdrawRequest struct {
	Who     string `json:"who"`
	Asset   string `json:"asset"`
	To      string `json:"to"`
	Amount  string `json:"amount"`
	AuthSig string `json:"auth_sig"`
}

func (s *Service) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	who, err := crypto.DecodeAddress(req.Who)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	asset, err := crypto.DecodeAddress(req.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	to := who
	if req.To != "" {
		to, err = crypto.DecodeAddress(req.To)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	amount, ok := parseBigInt(w, req.Amount, "amount")
	if !ok {
		return
	}
	authSig, ok := decodeAuthSig(w, req.AuthSig)
	if !ok {
		return
	}
	events, err := s.engine.Withdraw(who, asset, to, amount, now(), authSig)
	if err != nil {
		translateEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse(events))
}

type borrowRequest struct {
	Who    string `json:"who"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

func (s *Service) handleBorrow(w http.ResponseWriter, r *http.Request) {
	var req borrowRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	who, err := crypto.DecodeAddress(req.Who)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	asset, err := crypto.DecodeAddress(req.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, ok := parseBigInt(w, req.Amount, "amount")
	if !ok {
		return
	}
	events, err := s.engine.Borrow(who, asset, amount, now())
	if err != nil {
		translateEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse(events))
}

type repayRequest struct {
	Who    string `json:"who"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

func (s *Service) handleRepay(w http.ResponseWriter, r *http.Request) {
	var req repayRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	who, err := crypto.DecodeAddress(req.Who)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	asset, err := crypto.DecodeAddress(req.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, ok := parseBigInt(w, req.Amount, "amount")
	if !ok {
		return
	}
	events, err := s.engine.Repay(who, asset, amount, now())
	if err != nil {
		translateEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse(events))
}

type setAsCollateralRequest struct {
	Who     string `json:"who"`
	Asset   string `json:"asset"`
	Use     bool   `json:"use"`
	AuthSig string `json:"auth_sig"`
}

func (s *Service) handleSetAsCollateral(w http.ResponseWriter, r *http.Request) {
	var req setAsCollateralRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	who, err := crypto.DecodeAddress(req.Who)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	asset, err := crypto.DecodeAddress(req.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	authSig, ok := decodeAuthSig(w, req.AuthSig)
	if !ok {
		return
	}
	events, err := s.engine.SetAsCollateral(who, asset, req.Use, now(), authSig)
	if err != nil {
		translateEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse(events))
}

type liquidateRequest struct {
	Liquidator    string `json:"liquidator"`
	Who           string `json:"who"`
	ReceiveSToken bool   `json:"receive_stoken"`
}

func (s *Service) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	liquidator, err := crypto.DecodeAddress(req.Liquidator)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	who, err := crypto.DecodeAddress(req.Who)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	events, err := s.engine.Liquidate(liquidator, who, req.ReceiveSToken, now())
	if err != nil {
		translateEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse(events))
}

type flashLoanLegRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
	Borrow bool   `json:"borrow"`
}

type flashLoanRequest struct {
	Who         string                `json:"who"`
	CallbackURL string                `json:"callback_url"`
	Legs        []flashLoanLegRequest `json:"legs"`
	Params      string                `json:"params"`
}

// httpFlashLoanReceiver adapts an external receiver contract to a webhook:
// FlashLoan's synchronous Receive callback becomes a synchronous POST to
// CallbackURL carrying the settled legs, the HTTP stand-in for a same-block
// cross-contract call.
type httpFlashLoanReceiver struct {
	client      *http.Client
	callbackURL string
}

type flashLoanCallbackPayload struct {
	Initiator string                `json:"initiator"`
	Legs      []flashLoanLegPayload `json:"legs"`
	Params    []byte                `json:"params"`
}

type flashLoanLegPayload struct {
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
	Premium string `json:"premium"`
	Borrow  bool   `json:"borrow"`
}

type flashLoanCallbackResponse struct {
	Accepted bool `json:"accepted"`
}

func (h *httpFlashLoanReceiver) Receive(initiator crypto.Address, legs []lending.FlashLoanLeg, params []byte) (bool, error) {
	payload := flashLoanCallbackPayload{Initiator: initiator.String(), Params: params}
	for _, leg := range legs {
		payload.Legs = append(payload.Legs, flashLoanLegPayload{
			Asset:   leg.Asset.String(),
			Amount:  stringOrZero(leg.Amount),
			Premium: stringOrZero(leg.Premium),
			Borrow:  leg.Borrow,
		})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return false, err
	}
	resp, err := h.client.Post(h.callbackURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("flash loan callback: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("flash loan callback returned status %d", resp.StatusCode)
	}
	var out flashLoanCallbackResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out); err != nil {
		return false, err
	}
	return out.Accepted, nil
}

func (s *Service) handleFlashLoan(w http.ResponseWriter, r *http.Request) {
	var req flashLoanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	who, err := crypto.DecodeAddress(req.Who)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.CallbackURL == "" {
		writeError(w, http.StatusBadRequest, invalidFieldError("callback_url"))
		return
	}
	requests := make([]lending.FlashLoanAssetRequest, 0, len(req.Legs))
	for _, leg := range req.Legs {
		asset, err := crypto.DecodeAddress(leg.Asset)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		amount, ok := parseBigInt(w, leg.Amount, "legs.amount")
		if !ok {
			return
		}
		requests = append(requests, lending.FlashLoanAssetRequest{Asset: asset, Amount: amount, Borrow: leg.Borrow})
	}
	receiver := &httpFlashLoanReceiver{client: &http.Client{Timeout: 10 * time.Second}, callbackURL: req.CallbackURL}
	events, err := s.engine.FlashLoan(who, who, receiver, requests, []byte(req.Params), now())
	if err != nil {
		translateEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse(events))
}

func (s *Service) handleAccountPosition(w http.ResponseWriter, r *http.Request) {
	who, ok := parseAddressPathParam(w, r, "address")
	if !ok {
		return
	}
	data, err := s.engine.AccountPosition(who, now())
	if err != nil {
		translateEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountPositionDTO(data))
}

func (s *Service) handleGetReserve(w http.ResponseWriter, r *http.Request) {
	asset, ok := parseAddressPathParam(w, r, "address")
	if !ok {
		return
	}
	reserve, found, err := s.engine.GetReserve(asset)
	if err != nil {
		translateEngineError(w, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, lending.ErrNoActiveReserve)
		return
	}
	writeJSON(w, http.StatusOK, toReserveDTO(reserve))
}

func (s *Service) handleUserConfiguration(w http.ResponseWriter, r *http.Request) {
	who, ok := parseAddressPathParam(w, r, "address")
	if !ok {
		return
	}
	cfg, found, err := s.engine.UserConfigurationOf(who)
	if err != nil {
		translateEngineError(w, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, lending.ErrUserConfigNotExists)
		return
	}
	bits := make([]string, 0, lending.MaxBitmapReserves)
	for i := uint8(0); i < lending.MaxBitmapReserves; i++ {
		borrowing, _ := cfg.IsBorrowing(i)
		collateral, _ := cfg.IsUsingAsCollateral(i)
		if borrowing || collateral {
			bits = append(bits, fmt.Sprintf("%d:borrow=%t,collateral=%t", i, borrowing, collateral))
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reserves": bits})
}

func (s *Service) handlePoolConfiguration(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toPoolConfigDTO(s.engine.PoolConfiguration()))
}

func (s *Service) handlePauseInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toPauseInfoDTO(s.engine.PauseStatus()))
}

func (s *Service) handleTWAPPrice(w http.ResponseWriter, r *http.Request) {
	asset, ok := parseAddressPathParam(w, r, "address")
	if !ok {
		return
	}
	price, err := s.engine.TWAPMedianPrice(asset)
	if err != nil {
		translateEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"price": stringOrZero(price)})
}

func (s *Service) handleProtocolFee(w http.ResponseWriter, r *http.Request) {
	asset, ok := parseAddressPathParam(w, r, "address")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"fee": stringOrZero(s.engine.ProtocolFee(asset))})
}
