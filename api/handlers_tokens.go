package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/tokenscopelabs/tokenscope/db"
	"github.com/tokenscopelabs/tokenscope/network/httputil"
	"github.com/tokenscopelabs/tokenscope/types"
)

// SearchTokens serves GET /api/tokens. The query matches a case-insensitive
// substring of symbol or name, or an exact address.
func (s *Service) SearchTokens(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	chainId, err := parseSupportedChain(q.Get("chainId"))
	if err != nil {
		writeError(w, err)
		return
	}
	page, limit, err := parsePagination(r)
	if err != nil {
		writeError(w, err)
		return
	}
	query := db.TokenQuery{
		ChainId: chainId,
		Search:  strings.TrimSpace(q.Get("searchQuery")),
		Page:    page,
		Limit:   limit,
	}
	if query.Verified, err = queryBool(q.Get("isVerified"), "isVerified"); err != nil {
		writeError(w, err)
		return
	}
	if query.Spam, err = queryBool(q.Get("isSpam"), "isSpam"); err != nil {
		writeError(w, err)
		return
	}
	result, err := s.cfg.Tokens.Search(r.Context(), query)
	if err != nil {
		writeError(w, err)
		return
	}
	writeTokenPage(w, result)
}

// TokensByChain serves GET /api/tokens/{chainId}: the unfiltered paginated
// listing for one chain.
func (s *Service) TokensByChain(w http.ResponseWriter, r *http.Request) {
	chainId, err := parseSupportedChain(mux.Vars(r)["chainId"])
	if err != nil {
		writeError(w, err)
		return
	}
	page, limit, err := parsePagination(r)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := s.cfg.Tokens.Search(r.Context(), db.TokenQuery{
		ChainId: chainId,
		Page:    page,
		Limit:   limit,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeTokenPage(w, result)
}

func writeTokenPage(w http.ResponseWriter, page *types.TokenPage) {
	if page.Tokens == nil {
		page.Tokens = []*types.TokenMeta{}
	}
	httputil.WriteJson(w, page)
}

func queryBool(raw, name string) (*bool, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, errors.Wrapf(types.ErrInvalidInput, "malformed %s %q", name, raw)
	}
	return &v, nil
}
