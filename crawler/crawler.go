// Package crawler enumerates ERC-20 Transfer events touching a wallet across
// a block range. Providers cap how much one eth_getLogs call may return, so
// the crawler works through an explicit stack of block spans and splits any
// span the provider rejects until it fits, down to single blocks.
package crawler

import (
	"context"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tokenscopelabs/tokenscope/chainrpc"
	"github.com/tokenscopelabs/tokenscope/types"
)

var log = logrus.WithField("prefix", "crawler")

// TransferTopic is keccak256("Transfer(address,address,uint256)").
var TransferTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

const (
	// DefaultChunkSize seeds the work stack with spans of this many blocks.
	DefaultChunkSize = 2000
	// defaultSoftCap guards against providers that silently truncate large
	// responses instead of erroring. A span returning this many logs is
	// split and refetched rather than trusted.
	defaultSoftCap = 10000
)

// LogReader is the slice of the provider pool the crawler needs.
type LogReader interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethTypes.Log, error)
}

// Crawler fetches and decodes transfer logs for one chain.
type Crawler struct {
	reader    LogReader
	chainId   types.ChainId
	chainName string
	chunkSize uint64
	softCap   int
}

// New builds a crawler over the given log source.
func New(reader LogReader, opts ...Option) (*Crawler, error) {
	c := &Crawler{
		reader:    reader,
		chunkSize: DefaultChunkSize,
		softCap:   defaultSoftCap,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// span is an inclusive block range on the work stack.
type span struct {
	from uint64
	to   uint64
}

// WalletTransfers returns every transfer in [from, to] where the wallet is
// sender or recipient, ordered by (block, logIndex) ascending. Blocks whose
// logs cannot be fetched even in isolation are skipped, not fatal.
func (c *Crawler) WalletTransfers(ctx context.Context, wallet types.Address, from, to uint64) ([]*types.TransferRecord, error) {
	walletTopic := []common.Hash{wallet.Topic()}
	outgoing, err := c.crawl(ctx, [][]common.Hash{{TransferTopic}, walletTopic}, from, to)
	if err != nil {
		return nil, err
	}
	incoming, err := c.crawl(ctx, [][]common.Hash{{TransferTopic}, nil, walletTopic}, from, to)
	if err != nil {
		return nil, err
	}
	merged := dedupeLogs(append(outgoing, incoming...))
	records := make([]*types.TransferRecord, 0, len(merged))
	for _, lg := range merged {
		if rec, ok := c.decode(lg, wallet); ok {
			records = append(records, rec)
		}
	}
	sortRecords(records)
	return records, nil
}

// TransfersTouching returns transfers in [from, to] where any of the given
// wallets is sender or recipient. A transfer between two listed wallets
// yields one record per touched wallet.
func (c *Crawler) TransfersTouching(ctx context.Context, wallets []types.Address, from, to uint64) ([]*types.TransferRecord, error) {
	if len(wallets) == 0 {
		return nil, nil
	}
	topics := make([]common.Hash, 0, len(wallets))
	interested := make(map[types.Address]bool, len(wallets))
	for _, w := range wallets {
		topics = append(topics, w.Topic())
		interested[w] = true
	}
	outgoing, err := c.crawl(ctx, [][]common.Hash{{TransferTopic}, topics}, from, to)
	if err != nil {
		return nil, err
	}
	incoming, err := c.crawl(ctx, [][]common.Hash{{TransferTopic}, nil, topics}, from, to)
	if err != nil {
		return nil, err
	}
	merged := dedupeLogs(append(outgoing, incoming...))
	var records []*types.TransferRecord
	for _, lg := range merged {
		sender, recipient, ok := transferParties(lg)
		if !ok {
			continue
		}
		if interested[sender] {
			if rec, decoded := c.decode(lg, sender); decoded {
				records = append(records, rec)
			}
		}
		if recipient != sender && interested[recipient] {
			if rec, decoded := c.decode(lg, recipient); decoded {
				records = append(records, rec)
			}
		}
	}
	sortRecords(records)
	return records, nil
}

// TokenSet reduces transfer records to the distinct token contracts touched.
func TokenSet(records []*types.TransferRecord) []types.Address {
	seen := make(map[types.Address]bool, len(records))
	tokens := make([]types.Address, 0, len(records))
	for _, rec := range records {
		if seen[rec.TokenAddress] {
			continue
		}
		seen[rec.TokenAddress] = true
		tokens = append(tokens, rec.TokenAddress)
	}
	return tokens
}

// crawl walks the span stack for one topic filter. Spans rejected by the
// provider, or suspiciously close to the soft cap, are split at the midpoint
// with the lower half processed first so output stays in ascending block
// order. A single block that still fails is logged, counted and dropped.
func (c *Crawler) crawl(ctx context.Context, topics [][]common.Hash, from, to uint64) ([]gethTypes.Log, error) {
	if from > to {
		return nil, nil
	}
	stack := c.seedSpans(from, to)
	var out []gethTypes.Log
	for len(stack) > 0 {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		logQueriesTotal.WithLabelValues(c.chainName).Inc()
		logs, err := c.reader.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(s.from),
			ToBlock:   new(big.Int).SetUint64(s.to),
			Topics:    topics,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !chainrpc.IsRangeLimitError(err) {
				return nil, errors.Wrapf(err, "fetch logs for blocks %d-%d", s.from, s.to)
			}
			if s.from == s.to {
				skippedBlocksTotal.WithLabelValues(c.chainName).Inc()
				log.WithFields(logrus.Fields{
					"chain": c.chainName,
					"block": s.from,
				}).WithError(errors.Wrap(types.ErrLogRangeIrrecoverable, err.Error())).Warn("Skipping block, log query failed at single-block range")
				continue
			}
			stack = splitSpan(stack, s)
			spanSplitsTotal.WithLabelValues(c.chainName).Inc()
			continue
		}
		if len(logs) >= c.softCap && s.from < s.to {
			stack = splitSpan(stack, s)
			spanSplitsTotal.WithLabelValues(c.chainName).Inc()
			continue
		}
		out = append(out, logs...)
	}
	return out, nil
}

// seedSpans chops [from, to] into chunk-sized spans, pushed so the lowest
// span is popped first.
func (c *Crawler) seedSpans(from, to uint64) []span {
	var spans []span
	for start := from; ; {
		end := start + c.chunkSize - 1
		if end > to || end < start {
			end = to
		}
		spans = append(spans, span{from: start, to: end})
		if end == to {
			break
		}
		start = end + 1
	}
	// Reverse so the stack pops in ascending block order.
	for i, j := 0, len(spans)-1; i < j; i, j = i+1, j-1 {
		spans[i], spans[j] = spans[j], spans[i]
	}
	return spans
}

// splitSpan pushes both halves of s, lower half on top.
func splitSpan(stack []span, s span) []span {
	mid := s.from + (s.to-s.from)/2
	stack = append(stack, span{from: mid + 1, to: s.to})
	return append(stack, span{from: s.from, to: mid})
}

// transferParties extracts sender and recipient from a transfer log. Logs
// with a fourth topic are NFT transfers and ignored, as are logs flagged
// removed by a reorg.
func transferParties(lg gethTypes.Log) (types.Address, types.Address, bool) {
	if lg.Removed || len(lg.Topics) != 3 || lg.Topics[0] != TransferTopic || len(lg.Data) != 32 {
		return "", "", false
	}
	sender := types.AddressFromCommon(common.BytesToAddress(lg.Topics[1].Bytes()))
	recipient := types.AddressFromCommon(common.BytesToAddress(lg.Topics[2].Bytes()))
	return sender, recipient, true
}

// decode builds the transfer record for one touched wallet.
func (c *Crawler) decode(lg gethTypes.Log, wallet types.Address) (*types.TransferRecord, bool) {
	sender, recipient, ok := transferParties(lg)
	if !ok {
		return nil, false
	}
	rec := &types.TransferRecord{
		ChainId:      c.chainId,
		Wallet:       wallet,
		TokenAddress: types.AddressFromCommon(lg.Address),
		TxHash:       lg.TxHash.Hex(),
		LogIndex:     lg.Index,
		BlockNumber:  lg.BlockNumber,
		Amount:       new(uint256.Int).SetBytes(lg.Data).Dec(),
	}
	switch {
	case sender == wallet && recipient == wallet:
		rec.Direction = types.DirectionSelf
		rec.Counterparty = wallet
	case sender == wallet:
		rec.Direction = types.DirectionOut
		rec.Counterparty = recipient
	case recipient == wallet:
		rec.Direction = types.DirectionIn
		rec.Counterparty = sender
	default:
		return nil, false
	}
	return rec, true
}

// dedupeLogs collapses duplicates on (txHash, logIndex). The same log shows
// up twice when the two directional filters both match it.
func dedupeLogs(logs []gethTypes.Log) []gethTypes.Log {
	type logKey struct {
		tx    common.Hash
		index uint
	}
	seen := make(map[logKey]bool, len(logs))
	deduped := logs[:0]
	for _, lg := range logs {
		key := logKey{tx: lg.TxHash, index: lg.Index}
		if seen[key] {
			continue
		}
		seen[key] = true
		deduped = append(deduped, lg)
	}
	return deduped
}

func sortRecords(records []*types.TransferRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].BlockNumber != records[j].BlockNumber {
			return records[i].BlockNumber < records[j].BlockNumber
		}
		if records[i].LogIndex != records[j].LogIndex {
			return records[i].LogIndex < records[j].LogIndex
		}
		return records[i].Wallet < records[j].Wallet
	})
}
