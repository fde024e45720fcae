// Package peers discovers and connects to Lightning peers: it keeps a scored
// cache of the node-visible network graph and manages outbound connections
// with bounded concurrency, single-flighted attempts and failure cooldowns.
package peers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"lnbridge/internal/lnd"
	"lnbridge/internal/logging"
	"lnbridge/internal/syncutil"
)

const (
	freshGraphTTL = 15 * time.Minute
	staleGraphTTL = 60 * time.Minute
	maxCandidates = 500

	// Only the strongest candidates are worth a per-node lookup for alias
	// and channel count; the rest score on degree alone.
	enrichTopN      = 25
	enrichWorkers   = 4
	enrichTimeout   = 3 * time.Second
	graphFetchLimit = 90 * time.Second
)

// Candidate is one connectable peer suggestion derived from the graph.
// Candidate sets are immutable: a refresh replaces the whole slice, never
// mutates it in place.
type Candidate struct {
	Pubkey   string `json:"pubkey"`
	Alias    string `json:"alias,omitempty"`
	HostPort string `json:"host_port"`
	Score    int64  `json:"score"`
	Source   string `json:"source"`
}

// GraphClient is the slice of the node client the graph cache needs.
type GraphClient interface {
	DescribeGraph(ctx context.Context) (*lnd.Graph, error)
	GetNodeInfo(ctx context.Context, pubkey string) (*lnd.GraphNodeInfo, error)
	Network(ctx context.Context) string
}

// GraphCache maintains scored peer candidates in two tiers. The fresh tier
// answers directly; the stale tier answers immediately too but kicks off a
// single-flighted background refresh, so callers never block on upstream
// latency once any data exists.
type GraphCache struct {
	client    GraphClient
	fresh     *syncutil.TTLCache
	stale     *syncutil.TTLCache
	flight    *syncutil.Flight
	enrichSem *syncutil.Semaphore
}

// NewGraphCache creates an empty graph cache around client.
func NewGraphCache(client GraphClient) *GraphCache {
	return &GraphCache{
		client:    client,
		fresh:     syncutil.NewTTLCache(freshGraphTTL),
		stale:     syncutil.NewTTLCache(staleGraphTTL),
		flight:    syncutil.NewFlight(),
		enrichSem: syncutil.NewSemaphore(enrichWorkers),
	}
}

// Candidates returns the best-available scored candidate set. Fresh data is
// returned as is; stale data is returned immediately while a refresh runs in
// the background; with no data at all the caller blocks on one shared fetch.
func (g *GraphCache) Candidates(ctx context.Context) ([]Candidate, error) {
	key := "graph|" + g.client.Network(ctx)

	if v, ok := g.fresh.Get(key); ok {
		return v.([]Candidate), nil
	}

	if v, ok := g.stale.Get(key); ok {
		// Stale beats blocking. Refresh errors are logged and swallowed;
		// the stale data stays serveable until its own tier expires.
		g.flight.Go(key, func() (interface{}, error) {
			return g.refresh(key)
		}, func(_ interface{}, err error) {
			if err != nil {
				logging.Peers.WithError(err).Warn("background graph refresh failed")
			}
		})
		return v.([]Candidate), nil
	}

	v, err := g.flight.Do(key, func() (interface{}, error) {
		return g.refresh(key)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Candidate), nil
}

// refresh fetches and scores the graph, then replaces both cache tiers. It
// runs on a detached context so a caller abandoning interest cannot kill a
// refresh other waiters share.
func (g *GraphCache) refresh(key string) ([]Candidate, error) {
	ctx, cancel := context.WithTimeout(context.Background(), graphFetchLimit)
	defer cancel()

	graph, err := g.client.DescribeGraph(ctx)
	if err != nil {
		return nil, fmt.Errorf("describe graph: %w", err)
	}

	candidates := ScoreGraph(graph, nil)
	g.enrich(ctx, graph, &candidates)

	g.fresh.Set(key, candidates, freshGraphTTL)
	g.stale.Set(key, candidates, staleGraphTTL)

	logging.Peers.WithField("candidates", len(candidates)).Info("graph candidates refreshed")
	return candidates, nil
}

// enrich re-scores the strongest candidates using their reported channel
// count, fetched per node under the lookup semaphore. Lookup failures leave
// the degree-only score in place.
func (g *GraphCache) enrich(ctx context.Context, graph *lnd.Graph, candidates *[]Candidate) {
	top := len(*candidates)
	if top > enrichTopN {
		top = enrichTopN
	}
	if top == 0 {
		return
	}

	var mu sync.Mutex
	counts := make(map[string]uint32, top)
	var wg sync.WaitGroup

	for i := 0; i < top; i++ {
		pubkey := (*candidates)[i].Pubkey
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.enrichSem.Use(ctx, func() error {
				lookupCtx, cancel := context.WithTimeout(ctx, enrichTimeout)
				defer cancel()
				info, err := g.client.GetNodeInfo(lookupCtx, pubkey)
				if err != nil {
					return nil
				}
				mu.Lock()
				counts[pubkey] = info.NumChannels
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	if len(counts) > 0 {
		*candidates = ScoreGraph(graph, counts)
	}
}

// ScoreGraph turns a raw graph into a ranked candidate list. channelCounts
// (optional) supplies per-node reported channel counts; absent nodes score on
// degree alone. The result is deterministic: sorted by score descending, then
// pubkey ascending, truncated to the candidate cap.
func ScoreGraph(g *lnd.Graph, channelCounts map[string]uint32) []Candidate {
	degree := make(map[string]int64, len(g.Nodes))
	for _, e := range g.Edges {
		degree[e.Node1Pub]++
		degree[e.Node2Pub]++
	}

	candidates := make([]Candidate, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		if !lnd.ValidPubkey(n.PubKey) {
			continue
		}
		addr, ok := pickAddress(n.Addresses)
		if !ok {
			continue
		}
		score := 2*int64(channelCounts[n.PubKey]) + degree[n.PubKey]
		candidates = append(candidates, Candidate{
			Pubkey:   strings.ToLower(n.PubKey),
			Alias:    n.Alias,
			HostPort: addr,
			Score:    score,
			Source:   "graph",
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Pubkey < candidates[j].Pubkey
	})

	if len(candidates) > maxCandidates {
		candidates = candidates[:maxCandidates]
	}
	return candidates
}

// pickAddress chooses a connectable address: prefer clearnet, fall back to
// onion only when nothing else is advertised, skip the node otherwise.
func pickAddress(addrs []lnd.GraphNodeAddress) (string, bool) {
	var onion string
	for _, a := range addrs {
		if a.Addr == "" || !lnd.ValidHostPort(a.Addr) {
			continue
		}
		if lnd.IsOnion(a.Addr) {
			if onion == "" {
				onion = a.Addr
			}
			continue
		}
		return a.Addr, true
	}
	if onion != "" {
		return onion, true
	}
	return "", false
}
