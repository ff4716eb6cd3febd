// Package discovery materializes a ranked list of candidate hosts from
// the on-chain node registry (§4.2): filter by capability and price,
// optionally probe liveness, score, and cache the result per
// (chainId, modelId) for a short window.
package discovery

import (
	"bytes"
	"context"
	"math/big"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fabricmesh/inference-session-core/internal/chain"
)

// Candidate is a scored, ranked host ready for session negotiation.
type Candidate struct {
	Address   chain.Address
	APIURL    string
	Price     *big.Int
	Stake     *big.Int
	LatencyMs int64
	Healthy   bool
	Score     float64
}

// Query selects hosts able to serve a given model on a given chain.
type Query struct {
	ChainID          chain.ChainID
	ModelID          [32]byte
	Token            chain.Address
	MaxPricePerToken *big.Int // nil means no cap
	MinStake         *big.Int // nil means use DefaultMinStake
}

// DefaultMinStake is the protocol-minimum stake (in FAB base units)
// below which a host is never considered, even if the registry has not
// yet slashed it (§4.2).
var DefaultMinStake = big.NewInt(1_000_000_000_000_000_000) // 1 FAB

const (
	cacheTTL       = 5 * time.Minute
	healthProbeURL = "/health"
	probeTimeout   = 2 * time.Second
)

// Registry discovers and ranks hosts, caching results per (chainId,
// modelId). Grounded on the teacher's MemoryTxStore: a mutex-guarded map
// returning defensive copies, sized for a low-cardinality key space.
type Registry struct {
	client Client
	probe  *http.Client
	log    *zap.SugaredLogger

	mu    sync.Mutex
	cache map[cacheKey]cacheEntry
}

// Client is the subset of internal/chain.Client discovery depends on.
type Client interface {
	GetActiveHosts(ctx context.Context) ([]chain.HostRecord, error)
}

type cacheKey struct {
	chainID chain.ChainID
	modelID [32]byte
}

type cacheEntry struct {
	candidates []Candidate
	expiresAt  time.Time
}

// NewRegistry builds a Registry over a chain client. Discover's probeHealth
// argument controls whether candidates are liveness-checked before scoring;
// disable it in tests or for chains whose hosts are behind private
// networks unreachable from the caller.
func NewRegistry(client Client, log *zap.SugaredLogger) *Registry {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Registry{
		client: client,
		probe:  &http.Client{Timeout: probeTimeout},
		log:    log,
		cache:  make(map[cacheKey]cacheEntry),
	}
}

// Discover returns ranked candidates for q, using the cache when fresh.
func (r *Registry) Discover(ctx context.Context, q Query, probeHealth bool) ([]Candidate, error) {
	key := cacheKey{chainID: q.ChainID, modelID: q.ModelID}

	if cached, ok := r.fromCache(key); ok {
		return cached, nil
	}

	hosts, err := r.client.GetActiveHosts(ctx)
	if err != nil {
		return nil, err
	}

	filtered := filterHosts(hosts, q)
	candidates := r.scoreHosts(ctx, filtered, q, probeHealth)

	r.mu.Lock()
	r.cache[key] = cacheEntry{candidates: candidates, expiresAt: time.Now().Add(cacheTTL)}
	r.mu.Unlock()

	return candidates, nil
}

// Invalidate drops the cached entry for (chainId, modelId), e.g. after a
// caller observes a connection failure against a cached host.
func (r *Registry) Invalidate(chainID chain.ChainID, modelID [32]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, cacheKey{chainID: chainID, modelID: modelID})
}

func (r *Registry) fromCache(key cacheKey) ([]Candidate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	out := make([]Candidate, len(entry.candidates))
	copy(out, entry.candidates)
	return out, true
}

func filterHosts(hosts []chain.HostRecord, q Query) []chain.HostRecord {
	minStake := q.MinStake
	if minStake == nil {
		minStake = DefaultMinStake
	}

	out := make([]chain.HostRecord, 0, len(hosts))
	for _, h := range hosts {
		if !h.Active {
			continue
		}
		if h.Stake == nil || h.Stake.Cmp(minStake) < 0 {
			continue
		}
		if _, ok := h.SupportedModelIDs[q.ModelID]; !ok {
			continue
		}
		price, ok := h.PricePerToken[q.Token]
		if !ok {
			continue
		}
		if q.MaxPricePerToken != nil && price.Cmp(q.MaxPricePerToken) > 0 {
			continue
		}
		out = append(out, h)
	}
	return out
}

func (r *Registry) scoreHosts(ctx context.Context, hosts []chain.HostRecord, q Query, probeHealth bool) []Candidate {
	if len(hosts) == 0 {
		return nil
	}

	type probed struct {
		host      chain.HostRecord
		price     *big.Int
		latencyMs int64
		healthy   bool
	}

	probedHosts := make([]probed, len(hosts))
	maxStake := new(big.Int)
	maxPrice := new(big.Int)
	var maxLatency int64

	for i, h := range hosts {
		price := h.PricePerToken[q.Token]
		latency, healthy := int64(0), true
		if probeHealth {
			latency, healthy = r.probeOne(ctx, h.APIURL)
		}
		probedHosts[i] = probed{host: h, price: price, latencyMs: latency, healthy: healthy}

		if h.Stake.Cmp(maxStake) > 0 {
			maxStake = h.Stake
		}
		if price.Cmp(maxPrice) > 0 {
			maxPrice = price
		}
		if latency > maxLatency {
			maxLatency = latency
		}
	}

	candidates := make([]Candidate, len(probedHosts))
	for i, p := range probedHosts {
		normalizedPrice := ratio(p.price, maxPrice)
		normalizedStake := ratio(p.host.Stake, maxStake)
		normalizedLatency := 0.0
		if maxLatency > 0 {
			normalizedLatency = float64(p.latencyMs) / float64(maxLatency)
		}

		score := 0.5*(1-normalizedPrice) + 0.3*normalizedStake + 0.2*(1-normalizedLatency)
		if probeHealth && !p.healthy {
			score = 0 // penalize unreachable hosts to the bottom of the ranking
		}

		candidates[i] = Candidate{
			Address:   p.host.Address,
			APIURL:    p.host.APIURL,
			Price:     p.price,
			Stake:     p.host.Stake,
			LatencyMs: p.latencyMs,
			Healthy:   p.healthy || !probeHealth,
			Score:     score,
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return bytes.Compare(candidates[i].Address.Bytes(), candidates[j].Address.Bytes()) < 0
	})

	return candidates
}

// probeOne issues a bounded health check and returns observed latency
// and whether the host responded with 2xx.
func (r *Registry) probeOne(ctx context.Context, apiURL string) (int64, bool) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, apiURL+healthProbeURL, nil)
	if err != nil {
		return 0, false
	}

	start := time.Now()
	resp, err := r.probe.Do(req)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		r.log.Debugw("host health probe failed", "url", apiURL, "error", err)
		return elapsed, false
	}
	defer resp.Body.Close()

	return elapsed, resp.StatusCode >= 200 && resp.StatusCode < 300
}

func ratio(v, max *big.Int) float64 {
	if max == nil || max.Sign() == 0 || v == nil {
		return 0
	}
	vf := new(big.Float).SetInt(v)
	mf := new(big.Float).SetInt(max)
	result, _ := new(big.Float).Quo(vf, mf).Float64()
	return result
}
