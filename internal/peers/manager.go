package peers

import (
	"context"
	"strings"
	"sync"
	"time"

	"lnbridge/internal/lnd"
	"lnbridge/internal/logging"
	"lnbridge/internal/syncutil"
)

const (
	probeSuccessTTL  = 2 * time.Minute
	probeCooldown    = 25 * time.Minute
	connectCooldown  = 30 * time.Second
	defaultProbeTime = 15 * time.Second

	probeConcurrency   = 3
	connectConcurrency = 2

	connectTimeoutSec = 10

	pollStart      = 200 * time.Millisecond
	pollCap        = 700 * time.Millisecond
	pollMultiplier = 1.5
)

// ConnectClient is the slice of the node client the connectivity manager
// needs.
type ConnectClient interface {
	ListPeers(ctx context.Context) ([]lnd.Peer, error)
	ConnectPeer(ctx context.Context, pubkey, host string, timeoutSec uint64) error
}

// ProbeResult is the outcome of a reachability probe. Unreachability is a
// normal, frequent outcome used for ranking, so it is a value, not an error.
type ProbeResult struct {
	ReachableNow bool   `json:"reachable_now"`
	Reason       string `json:"reason,omitempty"`
}

// Manager probes and establishes peer connections. One instance is shared
// process-wide; its semaphores, caches and cooldowns bound the load every
// caller can put on the node together.
type Manager struct {
	client ConnectClient
	graph  *GraphCache

	successCache *syncutil.TTLCache
	cooldown     *syncutil.Cooldown
	flight       *syncutil.Flight
	probeSem     *syncutil.Semaphore
	connectSem   *syncutil.Semaphore
}

// NewManager creates a connectivity manager around client. graph may be nil
// if peer suggestions are not needed.
func NewManager(client ConnectClient, graph *GraphCache) *Manager {
	return &Manager{
		client:       client,
		graph:        graph,
		successCache: syncutil.NewTTLCache(probeSuccessTTL),
		cooldown:     syncutil.NewCooldown(),
		flight:       syncutil.NewFlight(),
		probeSem:     syncutil.NewSemaphore(probeConcurrency),
		connectSem:   syncutil.NewSemaphore(connectConcurrency),
	}
}

func probeKey(pubkey, hostPort string) string {
	return strings.ToLower(pubkey) + "@" + hostPort
}

// ProbePeer checks whether the peer is reachable right now, connecting if
// necessary. Recent successes answer from cache; recent failures answer from
// the cooldown without any network call. Returns an error only for malformed
// input, never for plain unreachability.
func (m *Manager) ProbePeer(ctx context.Context, pubkey, hostPort string, timeout time.Duration) (ProbeResult, error) {
	if !lnd.ValidPubkey(pubkey) {
		return ProbeResult{}, lnd.Errorf(lnd.CodeInvalidPubkey, "peer public key must be 66 hex chars", "invalid pubkey %q", pubkey)
	}
	if !lnd.ValidHostPort(hostPort) {
		return ProbeResult{}, lnd.Errorf(lnd.CodeInvalidHostPort, "address must be host:port", "invalid host %q", hostPort)
	}
	if timeout <= 0 {
		timeout = defaultProbeTime
	}

	key := probeKey(pubkey, hostPort)

	if _, ok := m.successCache.Get(key); ok {
		return ProbeResult{ReachableNow: true}, nil
	}
	if _, ok := m.cooldown.Get(key); ok {
		return ProbeResult{Reason: string(lnd.CodeConnectCooldown)}, nil
	}

	// Detached from the caller's context: once a probe starts it runs to
	// completion so every single-flight waiter receives the one outcome,
	// even if the original caller stops caring.
	probeCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	v, err := m.flight.Do(key, func() (interface{}, error) {
		return m.probeLocked(probeCtx, key, pubkey, hostPort), nil
	})
	if err != nil {
		// The probe fn reports failures as values, not errors.
		return ProbeResult{Reason: string(lnd.CodeConnectFailed)}, nil
	}
	return v.(ProbeResult), nil
}

// probeLocked runs one deduplicated probe attempt. Exactly one attempt per
// key is in flight; all concurrent callers share its result.
func (m *Manager) probeLocked(ctx context.Context, key, pubkey, hostPort string) ProbeResult {
	var result ProbeResult

	err := m.probeSem.Use(ctx, func() error {
		if m.isPeer(ctx, pubkey) {
			result = ProbeResult{ReachableNow: true}
			return nil
		}

		connectErr := m.client.ConnectPeer(ctx, pubkey, hostPort, connectTimeoutSec)
		reason, alreadyConnected := classifyConnect(connectErr)
		if connectErr != nil && !alreadyConnected {
			result = ProbeResult{Reason: string(reason)}
			return nil
		}

		if m.isPeer(ctx, pubkey) || alreadyConnected {
			result = ProbeResult{ReachableNow: true}
			return nil
		}
		result = ProbeResult{Reason: string(lnd.CodeNotConnectedAfterConnect)}
		return nil
	})
	if err != nil {
		// Outer timeout expired while queued or mid-attempt.
		result = ProbeResult{Reason: string(lnd.CodeConnectTimeout)}
	}

	if result.ReachableNow {
		m.successCache.Set(key, true, probeSuccessTTL)
		m.cooldown.Clear(key)
	} else {
		m.cooldown.Set(key, probeCooldown, result.Reason)
		logging.Peers.WithField("peer", key).WithField("reason", result.Reason).Debug("probe failed, cooling down")
	}
	return result
}

// EnsureConnected guarantees the peer is in the node's peer list, connecting
// and then polling membership with capped backoff until the deadline. It is
// the synchronous precondition of a paid action (channel open), so its
// failure cooldown is deliberately short to allow rapid user retry.
func (m *Manager) EnsureConnected(ctx context.Context, pubkey, hostPort string, timeout time.Duration) error {
	if !lnd.ValidPubkey(pubkey) {
		return lnd.Errorf(lnd.CodeInvalidPubkey, "peer public key must be 66 hex chars", "invalid pubkey %q", pubkey)
	}
	if !lnd.ValidHostPort(hostPort) {
		return lnd.Errorf(lnd.CodeInvalidHostPort, "address must be host:port", "invalid host %q", hostPort)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	key := "ensure|" + strings.ToLower(pubkey)
	if reason, ok := m.cooldown.Get(key); ok {
		return lnd.Errorf(lnd.CodePeerNotReady,
			"peer connection failed recently; wait a moment and retry",
			"cooling down after %s", reason)
	}

	// Detached like ProbePeer: all waiters of the single-flighted attempt
	// get the one outcome regardless of who started it.
	ensureCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_, err := m.flight.Do(key, func() (interface{}, error) {
		return nil, m.ensureLocked(ensureCtx, key, pubkey, hostPort)
	})
	return err
}

func (m *Manager) ensureLocked(ctx context.Context, key, pubkey, hostPort string) error {
	if m.isPeer(ctx, pubkey) {
		return nil
	}

	err := m.connectSem.Use(ctx, func() error {
		connectErr := m.client.ConnectPeer(ctx, pubkey, hostPort, connectTimeoutSec)
		if connectErr != nil {
			if _, alreadyConnected := classifyConnect(connectErr); alreadyConnected {
				return nil
			}
			return connectErr
		}
		return nil
	})
	if err != nil {
		reason, _ := classifyConnect(err)
		m.cooldown.Set(key, connectCooldown, string(reason))
		return lnd.E(lnd.CodePeerNotReady, "could not connect to peer; check the address and try again", err)
	}

	// Membership can lag the connect call; poll with capped backoff.
	delay := pollStart
	for {
		if m.isPeer(ctx, pubkey) {
			m.cooldown.Clear(key)
			m.successCache.Set(probeKey(pubkey, hostPort), true, probeSuccessTTL)
			return nil
		}
		select {
		case <-ctx.Done():
			m.cooldown.Set(key, connectCooldown, string(lnd.CodePeerNotReady))
			return lnd.E(lnd.CodePeerNotReady, "peer did not appear in the peer list in time; retry shortly", ctx.Err())
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * pollMultiplier)
		if delay > pollCap {
			delay = pollCap
		}
	}
}

func (m *Manager) isPeer(ctx context.Context, pubkey string) bool {
	list, err := m.client.ListPeers(ctx)
	if err != nil {
		return false
	}
	want := strings.ToLower(pubkey)
	for _, p := range list {
		if strings.ToLower(p.PubKey) == want {
			return true
		}
	}
	return false
}

// classifyConnect maps the node's connect-peer error text onto the stable
// reason codes. "already connected" is a success path, not a failure.
func classifyConnect(err error) (lnd.Code, bool) {
	if err == nil {
		return "", false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "already connected"):
		return "", true
	case strings.Contains(msg, "i/o timeout") || strings.Contains(msg, "deadline exceeded") ||
		lnd.CodeOf(err) == lnd.CodeRequestTimeout:
		return lnd.CodeConnectTimeout, false
	case strings.Contains(msg, "connection refused") || lnd.CodeOf(err) == lnd.CodeConnectRefused:
		return lnd.CodeConnectRefused, false
	default:
		return lnd.CodeConnectFailed, false
	}
}

// SuggestionsMeta describes how a suggestion set was produced.
type SuggestionsMeta struct {
	Total  int `json:"total"`
	Probed int `json:"probed"`
}

// Suggestion is a graph candidate, optionally annotated with a live
// reachability probe.
type Suggestion struct {
	Candidate
	ReachableNow *bool `json:"reachable_now,omitempty"`
}

// Suggestions returns up to limit scored peer candidates and live-probes the
// top probeTop of them. Probes run concurrently but are bounded by the shared
// probe semaphore, so a big probeTop cannot stampede the node.
func (m *Manager) Suggestions(ctx context.Context, limit, probeTop int) ([]Suggestion, SuggestionsMeta, error) {
	if m.graph == nil {
		return nil, SuggestionsMeta{}, lnd.E(lnd.CodeNodeNotConfigured, "peer suggestions need a graph cache", nil)
	}
	if limit <= 0 || limit > maxCandidates {
		limit = 25
	}
	if probeTop > limit {
		probeTop = limit
	}

	candidates, err := m.graph.Candidates(ctx)
	if err != nil {
		return nil, SuggestionsMeta{}, err
	}

	meta := SuggestionsMeta{Total: len(candidates)}
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	suggestions := make([]Suggestion, len(candidates))
	for i, c := range candidates {
		suggestions[i] = Suggestion{Candidate: c}
	}

	var wg sync.WaitGroup
	for i := 0; i < probeTop && i < len(suggestions); i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := m.ProbePeer(ctx, suggestions[i].Pubkey, suggestions[i].HostPort, defaultProbeTime)
			if err != nil {
				return
			}
			reachable := res.ReachableNow
			suggestions[i].ReachableNow = &reachable
		}()
		meta.Probed++
	}
	wg.Wait()

	return suggestions, meta, nil
}
