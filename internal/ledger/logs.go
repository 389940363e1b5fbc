package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/time/rate"
)

// FilterLogs returns every log of event emitted by the contract from genesis
// to the latest block, in chain order. Extra topics constrain indexed
// arguments positionally (nil entries match anything).
func (c *Client) FilterLogs(ctx context.Context, event string, topics ...[]common.Hash) ([]Log, error) {
	id, err := c.EventID(event)
	if err != nil {
		return nil, err
	}
	filterTopics := append([][]common.Hash{{id}}, topics...)

	if c.cfg.ScanChunk == 0 {
		return c.getLogs(ctx, filterTopics, "0x0", "latest")
	}

	latest, err := c.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}

	limit := rate.Inf
	if c.cfg.ScanRPS > 0 {
		limit = rate.Limit(c.cfg.ScanRPS)
	}
	limiter := rate.NewLimiter(limit, 1)

	var out []Log
	for start := uint64(0); start <= latest; start += c.cfg.ScanChunk {
		end := start + c.cfg.ScanChunk - 1
		if end > latest {
			end = latest
		}
		if err := limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, Stopped(ctx, "eth_getLogs", fmt.Errorf("scan stopped at block %d", start))
			}
			return nil, Wrap(KindTimeout, "eth_getLogs", err)
		}
		logs, err := c.getLogs(ctx, filterTopics, hexutil.EncodeUint64(start), hexutil.EncodeUint64(end))
		if err != nil {
			return nil, err
		}
		out = append(out, logs...)
		c.logger.Debug().
			Str("event", event).
			Uint64("from", start).
			Uint64("to", end).
			Int("logs", len(logs)).
			Msg("Scanned log range")
	}
	return out, nil
}

func (c *Client) getLogs(ctx context.Context, topics [][]common.Hash, from, to string) ([]Log, error) {
	filter := map[string]interface{}{
		"address":   c.cfg.Contract,
		"fromBlock": from,
		"toBlock":   to,
		"topics":    topics,
	}
	var logs []Log
	if err := c.rpc.Call(ctx, "eth_getLogs", []interface{}{filter}, &logs); err != nil {
		return nil, Wrap(KindRPC, "eth_getLogs", err)
	}
	live := logs[:0]
	for _, l := range logs {
		if !l.Removed {
			live = append(live, l)
		}
	}
	sort.SliceStable(live, func(i, j int) bool {
		if live[i].BlockNumber != live[j].BlockNumber {
			return live[i].BlockNumber < live[j].BlockNumber
		}
		return live[i].Index < live[j].Index
	})
	return live, nil
}
