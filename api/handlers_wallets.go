package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/tokenscopelabs/tokenscope/network/httputil"
	"github.com/tokenscopelabs/tokenscope/types"
)

type addWalletRequest struct {
	Address string          `json:"address"`
	Chains  []types.ChainId `json:"chains"`
}

type listWalletsResponse struct {
	Wallets []*types.TrackedWallet `json:"wallets"`
	Count   int                    `json:"count"`
}

type removeWalletResponse struct {
	Address types.Address `json:"address"`
	Removed bool          `json:"removed"`
}

// AddWallet serves POST /api/wallets/add-wallet. Registering an already
// tracked wallet unions the chain sets.
func (s *Service) AddWallet(w http.ResponseWriter, r *http.Request) {
	var req addWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Wrapf(types.ErrInvalidInput, "malformed body: %v", err))
		return
	}
	wallet, err := types.NormalizeAddress(req.Address)
	if err != nil {
		writeError(w, err)
		return
	}
	tracked, err := s.cfg.Tracked.Add(r.Context(), wallet, req.Chains)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJson(w, tracked)
}

// ListWallets serves GET /api/wallets/get-wallet.
func (s *Service) ListWallets(w http.ResponseWriter, r *http.Request) {
	wallets, err := s.cfg.Tracked.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if wallets == nil {
		wallets = []*types.TrackedWallet{}
	}
	httputil.WriteJson(w, &listWalletsResponse{Wallets: wallets, Count: len(wallets)})
}

// RemoveWallet serves DELETE /api/wallets/remove-wallet/{address}. The
// wallet's cache entries survive until the expiry sweeper collects them.
func (s *Service) RemoveWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := types.NormalizeAddress(mux.Vars(r)["address"])
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.cfg.Tracked.Remove(r.Context(), wallet); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJson(w, &removeWalletResponse{Address: wallet, Removed: true})
}
