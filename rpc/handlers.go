package rpc

import (
	"errors"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"sterling/core"
	"sterling/native/risk"
)

var errBadAddress = errors.New("rpc: malformed address")

func parseAddress(raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, errBadAddress
	}
	return common.HexToAddress(raw), nil
}

func (s *Server) listPools(w http.ResponseWriter, _ *http.Request) {
	ids, err := s.protocol.ListPools()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"pools": ids})
}

func (s *Server) getPool(w http.ResponseWriter, r *http.Request) {
	pool, err := s.protocol.GetPool(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pool)
}

type poolAccountResponse struct {
	Shares      *big.Int `json:"shares"`
	MaxWithdraw *big.Int `json:"maxWithdraw"`
}

func (s *Server) getPoolAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	poolID := chi.URLParam(r, "id")
	shares, err := s.protocol.DepositSharesOf(poolID, addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	maxWithdraw, err := s.protocol.MaxWithdraw(poolID, addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, poolAccountResponse{Shares: shares, MaxWithdraw: maxWithdraw})
}

type ltvResponse struct {
	Ltv        *big.Int `json:"ltv"`
	PendingLtv *big.Int `json:"pendingLtv,omitempty"`
	ValidAt    uint64   `json:"validAt,omitempty"`
}

func (s *Server) getLtv(w http.ResponseWriter, r *http.Request) {
	asset, err := parseAddress(chi.URLParam(r, "asset"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	poolID := chi.URLParam(r, "id")
	ltv, err := s.protocol.LtvFor(poolID, asset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	pending, validAt, err := s.protocol.PendingLtv(poolID, asset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ltvResponse{Ltv: ltv, PendingLtv: pending, ValidAt: validAt})
}

type riskDataResponse struct {
	TotalAssetValue  *big.Int `json:"totalAssetValue"`
	TotalDebtValue   *big.Int `json:"totalDebtValue"`
	MinReqAssetValue *big.Int `json:"minReqAssetValue"`
	MissingLtv       bool     `json:"missingLtv"`
}

type positionResponse struct {
	Position *positionBody    `json:"position"`
	Healthy  bool             `json:"healthy"`
	Risk     riskDataResponse `json:"risk"`
}

type positionBody struct {
	Addr             common.Address              `json:"addr"`
	Owner            common.Address              `json:"owner"`
	CollateralAssets []common.Address            `json:"collateralAssets"`
	DebtPools        []string                    `json:"debtPools"`
	BorrowShares     map[string]*big.Int         `json:"borrowShares"`
	Balances         map[common.Address]*big.Int `json:"balances"`
}

func (s *Server) getPosition(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	pos, err := s.protocol.GetPosition(addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	rd, err := s.protocol.RiskData(addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	healthy, err := s.protocol.IsHealthy(addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	body := &positionBody{
		Addr:             pos.Addr,
		Owner:            pos.Owner,
		CollateralAssets: pos.CollateralAssets,
		DebtPools:        pos.DebtPools,
		BorrowShares:     pos.BorrowShares,
		Balances:         make(map[common.Address]*big.Int, len(pos.CollateralAssets)),
	}
	for _, asset := range pos.CollateralAssets {
		bal, err := s.protocol.BalanceOf(pos.Addr, asset)
		if err != nil {
			s.writeError(w, err)
			return
		}
		body.Balances[asset] = bal
	}
	s.writeJSON(w, http.StatusOK, positionResponse{
		Position: body,
		Healthy:  healthy,
		Risk: riskDataResponse{
			TotalAssetValue:  rd.TotalAssetValue,
			TotalDebtValue:   rd.TotalDebtValue,
			MinReqAssetValue: rd.MinReqAssetValue,
			MissingLtv:       rd.MissingLtv,
		},
	})
}

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	asset, err := parseAddress(chi.URLParam(r, "asset"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	bal, err := s.protocol.BalanceOf(addr, asset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]*big.Int{"balance": bal})
}

func (s *Server) getOracle(w http.ResponseWriter, r *http.Request) {
	asset, err := parseAddress(chi.URLParam(r, "asset"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	source, ok := s.protocol.OracleFor(asset)
	s.writeJSON(w, http.StatusOK, map[string]any{"source": source, "configured": ok})
}

type pushQuoteRequest struct {
	Price     *big.Int `json:"price"`
	Timestamp uint64   `json:"timestamp"`
}

func (s *Server) pushQuote(w http.ResponseWriter, r *http.Request) {
	asset, err := parseAddress(chi.URLParam(r, "asset"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	var req pushQuoteRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.quotes.Push(asset, req.Price, req.Timestamp); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

type newPositionRequest struct {
	Owner common.Address `json:"owner"`
	Salt  common.Hash    `json:"salt"`
}

func (s *Server) newPosition(w http.ResponseWriter, r *http.Request) {
	var req newPositionRequest
	if !s.decode(w, r, &req) {
		return
	}
	addr, err := s.protocol.NewPosition(req.Owner, [32]byte(req.Salt))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]common.Address{"position": addr})
}

type batchRequest struct {
	Caller     common.Address   `json:"caller"`
	Operations []core.Operation `json:"operations"`
}

func (s *Server) processBatch(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	var req batchRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.protocol.ProcessBatch(req.Caller, addr, req.Operations); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}

type debtTupleRequest struct {
	PoolID string         `json:"poolId"`
	Asset  common.Address `json:"asset"`
	Amount *big.Int       `json:"amount"`
}

type seizureTupleRequest struct {
	Asset  common.Address `json:"asset"`
	Amount *big.Int       `json:"amount"`
}

type liquidateRequest struct {
	Liquidator common.Address        `json:"liquidator"`
	Debts      []debtTupleRequest    `json:"debts"`
	Seizures   []seizureTupleRequest `json:"seizures"`
}

func (s *Server) liquidate(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	var req liquidateRequest
	if !s.decode(w, r, &req) {
		return
	}
	debts := make([]risk.DebtTuple, len(req.Debts))
	for i, d := range req.Debts {
		debts[i] = risk.DebtTuple{PoolID: d.PoolID, Asset: d.Asset, Amount: d.Amount}
	}
	seizures := make([]risk.SeizureTuple, len(req.Seizures))
	for i, sz := range req.Seizures {
		seizures[i] = risk.SeizureTuple{Asset: sz.Asset, Amount: sz.Amount}
	}
	if err := s.protocol.Liquidate(req.Liquidator, addr, debts, seizures); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "liquidated"})
}

type liquidityRequest struct {
	From   common.Address `json:"from,omitempty"`
	Owner  common.Address `json:"owner,omitempty"`
	Assets *big.Int       `json:"assets,omitempty"`
	Shares *big.Int       `json:"shares,omitempty"`
}

func (s *Server) depositLiquidity(w http.ResponseWriter, r *http.Request) {
	var req liquidityRequest
	if !s.decode(w, r, &req) {
		return
	}
	shares, err := s.protocol.DepositLiquidity(req.From, chi.URLParam(r, "id"), req.Assets)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]*big.Int{"shares": shares})
}

func (s *Server) mintLiquidity(w http.ResponseWriter, r *http.Request) {
	var req liquidityRequest
	if !s.decode(w, r, &req) {
		return
	}
	assets, err := s.protocol.MintLiquidity(req.From, chi.URLParam(r, "id"), req.Shares)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]*big.Int{"assets": assets})
}

func (s *Server) withdrawLiquidity(w http.ResponseWriter, r *http.Request) {
	var req liquidityRequest
	if !s.decode(w, r, &req) {
		return
	}
	shares, err := s.protocol.WithdrawLiquidity(req.Owner, chi.URLParam(r, "id"), req.Assets)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]*big.Int{"shares": shares})
}

func (s *Server) redeemLiquidity(w http.ResponseWriter, r *http.Request) {
	var req liquidityRequest
	if !s.decode(w, r, &req) {
		return
	}
	assets, err := s.protocol.RedeemLiquidity(req.Owner, chi.URLParam(r, "id"), req.Shares)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]*big.Int{"assets": assets})
}

func (s *Server) accrue(w http.ResponseWriter, r *http.Request) {
	if err := s.protocol.Accrue(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "accrued"})
}

type ltvUpdateRequest struct {
	Caller common.Address `json:"caller"`
	Ltv    *big.Int       `json:"ltv,omitempty"`
}

func (s *Server) requestLtvUpdate(w http.ResponseWriter, r *http.Request) {
	asset, err := parseAddress(chi.URLParam(r, "asset"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	var req ltvUpdateRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.protocol.RequestLtvUpdate(req.Caller, chi.URLParam(r, "id"), asset, req.Ltv); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "requested"})
}

func (s *Server) acceptLtvUpdate(w http.ResponseWriter, r *http.Request) {
	asset, err := parseAddress(chi.URLParam(r, "asset"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := s.protocol.AcceptLtvUpdate(chi.URLParam(r, "id"), asset); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) rejectLtvUpdate(w http.ResponseWriter, r *http.Request) {
	asset, err := parseAddress(chi.URLParam(r, "asset"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	var req ltvUpdateRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.protocol.RejectLtvUpdate(req.Caller, chi.URLParam(r, "id"), asset); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}
