package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/tokenscopelabs/tokenscope/config/chains"
	"github.com/tokenscopelabs/tokenscope/network/httputil"
	"github.com/tokenscopelabs/tokenscope/runtime/logging"
	"github.com/tokenscopelabs/tokenscope/types"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// ChainSnapshot serves GET /api/wallet/{chain}/{address}. The refresh query
// parameter forces a rebuild regardless of cache state.
func (s *Service) ChainSnapshot(w http.ResponseWriter, r *http.Request) {
	chainId, err := parseSupportedChain(mux.Vars(r)["chain"])
	if err != nil {
		writeError(w, err)
		return
	}
	wallet, err := types.NormalizeAddress(mux.Vars(r)["address"])
	if err != nil {
		writeError(w, err)
		return
	}
	refresh := strings.EqualFold(r.URL.Query().Get("refresh"), "true")
	snap, err := s.cfg.Snapshots.Get(r.Context(), chainId, wallet, refresh)
	if err != nil {
		s.writeSnapshotFailure(w, chainId, wallet, err)
		return
	}
	httputil.WriteJson(w, snap)
}

// AggregateSnapshot serves GET /api/wallet/{address}: one snapshot per
// supported chain, fetched concurrently. A failing chain degrades to an
// empty syncing document instead of failing the whole response.
func (s *Service) AggregateSnapshot(w http.ResponseWriter, r *http.Request) {
	wallet, err := types.NormalizeAddress(mux.Vars(r)["address"])
	if err != nil {
		writeError(w, err)
		return
	}
	profiles := chains.All()
	snaps := make([]*types.WalletSnapshot, len(profiles))
	g, ctx := errgroup.WithContext(r.Context())
	for i, profile := range profiles {
		i, profile := i, profile
		g.Go(func() error {
			snap, err := s.cfg.Snapshots.Get(ctx, profile.Id, wallet, false)
			if err != nil {
				log.WithError(err).WithFields(logging.WalletFields(profile.Id, wallet)).
					Debug("Chain degraded in aggregate view")
				snap = degradedSnapshot(profile, wallet)
			}
			snaps[i] = snap
			return nil
		})
	}
	// Failures degrade per chain, so the group itself never errors.
	_ = g.Wait()
	httputil.WriteJson(w, aggregate(wallet, snaps))
}

// WalletTransactions serves GET /api/wallet/{chain}/{address}/transactions.
func (s *Service) WalletTransactions(w http.ResponseWriter, r *http.Request) {
	chainId, err := parseSupportedChain(mux.Vars(r)["chain"])
	if err != nil {
		writeError(w, err)
		return
	}
	wallet, err := types.NormalizeAddress(mux.Vars(r)["address"])
	if err != nil {
		writeError(w, err)
		return
	}
	page, limit, err := parsePagination(r)
	if err != nil {
		writeError(w, err)
		return
	}
	transfers, err := s.cfg.Transfers.TransfersByWallet(r.Context(), chainId, wallet, page, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if transfers.Transfers == nil {
		transfers.Transfers = []*types.TransferRecord{}
	}
	httputil.WriteJson(w, transfers)
}

// writeSnapshotFailure tries the stale document before surfacing a build
// failure. Only failures a later retry could fix qualify; bad input never
// turns into a stale 200.
func (s *Service) writeSnapshotFailure(w http.ResponseWriter, chainId types.ChainId, wallet types.Address, buildErr error) {
	if !retriableBuildFailure(buildErr) {
		writeError(w, buildErr)
		return
	}
	// The request deadline is usually spent by now, so the lookup runs on
	// its own short context.
	ctx, cancel := context.WithTimeout(context.Background(), staleLookupTimeout)
	defer cancel()
	stale, err := s.cfg.Snapshots.Cached(ctx, chainId, wallet)
	if err == nil && stale != nil {
		staleServesTotal.Inc()
		log.WithError(buildErr).WithFields(logging.WalletFields(chainId, wallet)).
			Debug("Serving stale snapshot after build failure")
		httputil.WriteJson(w, stale)
		return
	}
	writeError(w, buildErr)
}

func retriableBuildFailure(err error) bool {
	return errors.Is(err, types.ErrProviderUnavailable) ||
		errors.Is(err, types.ErrProviderDisagreement) ||
		errors.Is(err, types.ErrBuildTimeout) ||
		errors.Is(err, context.DeadlineExceeded)
}

func degradedSnapshot(profile *chains.Profile, wallet types.Address) *types.WalletSnapshot {
	return &types.WalletSnapshot{
		ChainId:   profile.Id,
		ChainName: profile.Name,
		Wallet:    wallet,
		Native:    "0",
		Result:    []*types.TokenBalance{},
		Syncing:   true,
	}
}

func aggregate(wallet types.Address, snaps []*types.WalletSnapshot) *types.AggregateSnapshot {
	agg := &types.AggregateSnapshot{Wallet: wallet, Chains: snaps}
	for _, snap := range snaps {
		if snap.Count > 0 {
			agg.ChainsCount++
		}
		for _, tb := range snap.Result {
			if tb.PossibleSpam {
				continue
			}
			agg.TotalUsd += tb.UsdValue
			agg.TotalTokens++
		}
	}
	return agg
}

func parseSupportedChain(raw string) (types.ChainId, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(types.ErrInvalidInput, "malformed chain id %q", raw)
	}
	chainId := types.ChainId(id)
	if !chains.IsSupported(chainId) {
		return 0, errors.Wrapf(types.ErrUnsupportedChain, "chain %d", chainId)
	}
	return chainId, nil
}

func parsePagination(r *http.Request) (page, limit int, err error) {
	page, err = queryInt(r, "page", 1)
	if err != nil {
		return 0, 0, err
	}
	limit, err = queryInt(r, "limit", defaultPageLimit)
	if err != nil {
		return 0, 0, err
	}
	if page < 1 {
		return 0, 0, errors.Wrapf(types.ErrInvalidInput, "page must be positive, got %d", page)
	}
	if limit < 1 || limit > maxPageLimit {
		return 0, 0, errors.Wrapf(types.ErrInvalidInput, "limit must be in [1, %d], got %d", maxPageLimit, limit)
	}
	return page, limit, nil
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Wrapf(types.ErrInvalidInput, "malformed %s %q", key, raw)
	}
	return n, nil
}
