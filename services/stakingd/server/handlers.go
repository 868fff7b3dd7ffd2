package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"

	"stakepool/core/rewards"
	"stakepool/gateway/middleware"
	"stakepool/integrations/exports"
	"stakepool/services/stakingd/storage"
)

type amountRequest struct {
	Amount string `json:"amount"`
}

type approveRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type rateRequest struct {
	Rate string `json:"rate"`
}

type pauseRequest struct {
	Paused *bool `json:"paused"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.engine.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	bps, defined := rewards.EstimateAPY(snapshot.RewardRate, snapshot.TotalStaked, s.cfg.RewardPrice, s.cfg.StakePrice)
	writeJSON(w, http.StatusOK, map[string]any{
		"total_staked":          snapshot.TotalStaked.String(),
		"reward_rate":           snapshot.RewardRate.String(),
		"reward_per_stake":      snapshot.RewardPerStake.String(),
		"last_update":           snapshot.LastUpdate,
		"rewards_emitted":       snapshot.RewardsEmitted.String(),
		"rewards_paid":          snapshot.RewardsPaid.String(),
		"outstanding":           snapshot.Outstanding.String(),
		"reserve":               snapshot.Reserve.String(),
		"paused":                snapshot.Paused,
		"stake_asset":           snapshot.StakeAsset,
		"reward_asset":          snapshot.RewardAsset,
		"lock_duration_seconds": int64(snapshot.LockDuration.Seconds()),
		"pool_address":          formatAddress(snapshot.PoolAddress),
		"controller":            formatAddress(snapshot.Controller),
		"apy":                   apyPayload(bps, defined),
	})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}
	position, err := s.engine.Position(addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address":         formatAddress(position.Address),
		"stake":           position.Stake.String(),
		"earned":          position.Earned.String(),
		"stake_timestamp": position.StakeTimestamp,
		"unlock_at":       position.UnlockAt,
		"locked":          position.Locked,
	})
}

func (s *Server) handleAPY(w http.ResponseWriter, r *http.Request) {
	bps, defined, err := s.engine.APY(s.cfg.RewardPrice, s.cfg.StakePrice)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apyPayload(bps, defined))
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}
	params := s.engine.Params()
	balances := make(map[string]any, 2)
	for _, symbol := range []string{params.StakeAsset, params.RewardAsset} {
		if _, seen := balances[symbol]; seen {
			continue
		}
		token, err := s.ledger.Token(symbol)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		balance, err := token.BalanceOf(r.Context(), addr)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		allowance, err := token.Allowance(r.Context(), addr, params.PoolAddress)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		balances[symbol] = map[string]string{
			"balance":        balance.String(),
			"pool_allowance": allowance.String(),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address":  formatAddress(addr),
		"balances": balances,
	})
}

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	caller, amount, ok := s.amountCall(w, r)
	if !ok {
		return
	}
	if err := s.engine.Stake(r.Context(), caller, amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writePosition(w, r, caller)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	caller, amount, ok := s.amountCall(w, r)
	if !ok {
		return
	}
	if err := s.engine.Withdraw(r.Context(), caller, amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writePosition(w, r, caller)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	paid, err := s.engine.ClaimReward(r.Context(), caller)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"address": formatAddress(caller),
		"paid":    paid.String(),
	})
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	caller, amount, ok := s.amountCall(w, r)
	if !ok {
		return
	}
	if err := s.engine.FundRewards(r.Context(), caller, amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	reserve, err := s.engine.RewardReserve(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reserve": reserve.String()})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var payload approveRequest
	if !decodeBody(w, r, &payload) {
		return
	}
	amount, ok := parseAmount(w, payload.Amount)
	if !ok {
		return
	}
	token, err := s.ledger.Token(payload.Asset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	spender := s.engine.Params().PoolAddress
	if err := token.Approve(r.Context(), caller, spender, amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"owner":     formatAddress(caller),
		"spender":   formatAddress(spender),
		"asset":     token.Symbol(),
		"allowance": amount.String(),
	})
}

func (s *Server) handleSetRate(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var payload rateRequest
	if !decodeBody(w, r, &payload) {
		return
	}
	rate, ok := parseAmount(w, payload.Rate)
	if !ok {
		return
	}
	if err := s.engine.SetRewardRate(r.Context(), caller, rate); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reward_rate": rate.String()})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var payload pauseRequest
	if !decodeBody(w, r, &payload) {
		return
	}
	if payload.Paused == nil {
		writeError(w, http.StatusBadRequest, "paused required")
		return
	}
	if err := s.engine.SetPaused(r.Context(), caller, *payload.Paused); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": *payload.Paused})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	after, limit, ok := pageParams(w, r)
	if !ok {
		return
	}
	records, err := s.journal.List(r.Context(), after, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if records == nil {
		records = []storage.Record{}
	}
	next := after
	if len(records) > 0 {
		next = records[len(records)-1].Seq
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": records, "next": next})
}

// handleFaucet mints the configured stake amount to the caller. The route is
// only mounted for dev deployments.
func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	asset := s.engine.Params().StakeAsset
	amount := new(big.Int).Set(s.cfg.FaucetAmount)
	if err := s.ledger.Mint(asset, caller, amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("stakingd: faucet mint",
		slog.String("caller", caller.Hex()),
		slog.String("asset", asset),
		slog.String("amount", amount.String()))
	writeJSON(w, http.StatusOK, map[string]string{
		"address": formatAddress(caller),
		"asset":   strings.ToUpper(asset),
		"amount":  amount.String(),
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = "csv"
	}
	var (
		encode      func([]storage.Record) ([]byte, string, error)
		contentType string
	)
	switch format {
	case "csv":
		encode, contentType = exports.EventsCSV, "text/csv"
	case "jsonl":
		encode, contentType = exports.EventsJSONL, "application/x-ndjson"
	case "parquet":
		encode, contentType = exports.EventsParquet, "application/vnd.apache.parquet"
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported format %q", format))
		return
	}
	after, limit, ok := exportWindow(w, r, s.cfg.ExportLimit)
	if !ok {
		return
	}
	records := make([]storage.Record, 0, min(limit, storage.MaxListLimit))
	more := false
	err := s.journal.Scan(r.Context(), after, func(record storage.Record) error {
		if len(records) == limit {
			more = true
			return errExportWindowFull
		}
		records = append(records, record)
		return nil
	})
	if err != nil && !errors.Is(err, errExportWindowFull) {
		s.writeError(w, r, err)
		return
	}
	data, checksum, err := encode(records)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="pool-events.%s"`, format))
	w.Header().Set("X-Checksum-SHA256", checksum)
	if more {
		w.Header().Set("X-Export-Next", strconv.FormatInt(records[len(records)-1].Seq, 10))
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func (s *Server) amountCall(w http.ResponseWriter, r *http.Request) (common.Address, *big.Int, bool) {
	caller, ok := s.caller(w, r)
	if !ok {
		return common.Address{}, nil, false
	}
	var payload amountRequest
	if !decodeBody(w, r, &payload) {
		return common.Address{}, nil, false
	}
	amount, ok := parseAmount(w, payload.Amount)
	if !ok {
		return common.Address{}, nil, false
	}
	return caller, amount, true
}

func (s *Server) caller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errCallerRequired.Error())
		return common.Address{}, false
	}
	return caller, true
}

func (s *Server) writePosition(w http.ResponseWriter, r *http.Request, addr common.Address) {
	position, err := s.engine.Position(addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address":   formatAddress(addr),
		"stake":     position.Stake.String(),
		"earned":    position.Earned.String(),
		"unlock_at": position.UnlockAt,
	})
}

// writeError logs server-side failures in full and returns only the status
// text for them, so storage internals stay out of responses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	message := err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		attrs := []any{slog.String("path", r.URL.Path), slog.Any("error", err)}
		if traceID := traceIDFromContext(r); traceID != "" {
			attrs = append(attrs, slog.String("trace_id", traceID))
		}
		s.logger.Error("stakingd: request failed", attrs...)
		message = http.StatusText(status)
	}
	writeError(w, status, message)
}

// exportWindow reads the after/limit query parameters of an export request.
// limit defaults to, and may not exceed, ceiling.
func exportWindow(w http.ResponseWriter, r *http.Request, ceiling int) (int64, int, bool) {
	query := r.URL.Query()
	var after int64
	if raw := strings.TrimSpace(query.Get("after")); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || value < 0 {
			writeError(w, http.StatusBadRequest, "after must be a non-negative integer")
			return 0, 0, false
		}
		after = value
	}
	limit := ceiling
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return 0, 0, false
		}
		if value < ceiling {
			limit = value
		}
	}
	return after, limit, true
}

func apyPayload(bps *big.Int, defined bool) map[string]any {
	if bps == nil {
		bps = big.NewInt(0)
	}
	return map[string]any{
		"apy_bps":     bps.String(),
		"apy_percent": rewards.FormatPercent(bps),
		"defined":     defined,
	}
}

func addressParam(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, "address"))
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "invalid address")
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func pageParams(w http.ResponseWriter, r *http.Request) (int64, int, bool) {
	query := r.URL.Query()
	var (
		after int64
		limit int
		err   error
	)
	if raw := strings.TrimSpace(query.Get("after")); raw != "" {
		after, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || after < 0 {
			writeError(w, http.StatusBadRequest, "invalid after")
			return 0, 0, false
		}
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return 0, 0, false
		}
	}
	return after, limit, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return false
	}
	return true
}

// parseAmount accepts any base-10 integer. Sign checks belong to the engine so
// that zero and negative values surface as ErrInvalidAmount.
func parseAmount(w http.ResponseWriter, raw string) (*big.Int, bool) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		writeError(w, http.StatusBadRequest, "amount must be a base-10 integer")
		return nil, false
	}
	return amount, true
}

func formatAddress(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

func traceIDFromContext(r *http.Request) string {
	spanCtx := trace.SpanContextFromContext(r.Context())
	if !spanCtx.IsValid() {
		return ""
	}
	return spanCtx.TraceID().String()
}

func writeError(w http.ResponseWriter, status int, message string) {
	if status <= 0 {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
