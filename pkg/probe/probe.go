package probe

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gaia-runtime/gaia/pkg/packet"
	"github.com/gaia-runtime/gaia/pkg/vector"
)

// Defaults for the probe knobs; all overridable through Config.
const (
	DefaultSimilarityThreshold = 0.40
	DefaultMaxPhrases          = 8
	DefaultCacheMaxAgeTurns    = 10
	DefaultMinWordsToProbe     = 3
	defaultTopKPerPhrase       = 3
)

// reflexCommands short-circuit the probe entirely.
var reflexCommands = map[string]bool{
	"exit": true, "quit": true, "bye": true, "help": true,
	"hi": true, "hello": true, "thanks": true, "ok": true,
}

// Config tunes the prober.
type Config struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	MaxPhrases          int     `yaml:"max_phrases" mapstructure:"max_phrases"`
	CacheMaxAgeTurns    int     `yaml:"cache_max_age_turns" mapstructure:"cache_max_age_turns"`
	MinWordsToProbe     int     `yaml:"min_words_to_probe" mapstructure:"min_words_to_probe"`
}

// DefaultConfig returns the deployment defaults.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: DefaultSimilarityThreshold,
		MaxPhrases:          DefaultMaxPhrases,
		CacheMaxAgeTurns:    DefaultCacheMaxAgeTurns,
		MinWordsToProbe:     DefaultMinWordsToProbe,
	}
}

// Hit is one phrase match in one collection.
type Hit struct {
	Phrase         string  `json:"phrase"`
	Collection     string  `json:"collection"`
	ChunkText      string  `json:"chunk_text"`
	Score          float64 `json:"score"`
	Filename       string  `json:"filename"`
	ChunkIndex     int     `json:"chunk_idx"`
	ConfidenceTier string  `json:"confidence_tier"`
}

// Result is the outcome of one probe invocation.
type Result struct {
	Hits                    []Hit    `json:"hits,omitempty"`
	PrimaryCollection       string   `json:"primary_collection,omitempty"`
	SupplementalCollections []string `json:"supplemental_collections,omitempty"`
	PhrasesTested           []string `json:"phrases_tested"`
	ProbeTimeMS             float64  `json:"probe_time_ms"`
	CacheHits               int      `json:"cache_hits"`
	Skipped                 bool     `json:"skipped,omitempty"`
}

// SessionStats accumulates probe outcomes over one session.
type SessionStats struct {
	Probes    int     `json:"probes"`
	WithHits  int     `json:"with_hits"`
	TotalHits int     `json:"total_hits"`
	HitRate   float64 `json:"hit_rate"`
}

// Searcher is the read-side the prober needs from a vector client.
type Searcher interface {
	Query(ctx context.Context, query string, topK int) ([]vector.SearchResult, error)
}

// Prober runs phrase-level lookups across all configured knowledge base
// collections, with per-session caching.
type Prober struct {
	cfg         Config
	collections map[string]Searcher
	logger      *slog.Logger

	mu     sync.Mutex
	caches map[string]*sessionCache
	stats  map[string]*SessionStats
}

// New creates a prober over a map of collection name to search client.
func New(cfg Config, collections map[string]Searcher) *Prober {
	if cfg.SimilarityThreshold == 0 {
		cfg.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if cfg.MaxPhrases == 0 {
		cfg.MaxPhrases = DefaultMaxPhrases
	}
	if cfg.CacheMaxAgeTurns == 0 {
		cfg.CacheMaxAgeTurns = DefaultCacheMaxAgeTurns
	}
	if cfg.MinWordsToProbe == 0 {
		cfg.MinWordsToProbe = DefaultMinWordsToProbe
	}
	return &Prober{
		cfg:         cfg,
		collections: collections,
		logger:      slog.Default(),
		caches:      make(map[string]*sessionCache),
		stats:       make(map[string]*SessionStats),
	}
}

// Probe extracts phrases from input and looks each one up in every
// configured collection. Reflex commands, empty input and inputs below
// the word minimum skip the lookup entirely.
func (p *Prober) Probe(ctx context.Context, input, sessionID string) *Result {
	start := time.Now()
	cache := p.cacheFor(sessionID)
	cache.advanceTurn()

	trimmed := strings.TrimSpace(input)
	words := strings.Fields(trimmed)
	if trimmed == "" || reflexCommands[strings.ToLower(trimmed)] || len(words) < p.cfg.MinWordsToProbe {
		result := &Result{
			PhrasesTested: []string{},
			Skipped:       true,
			ProbeTimeMS:   msSince(start),
		}
		p.record(sessionID, result)
		return result
	}

	phrases := ExtractPhrases(trimmed, p.cfg.MaxPhrases)
	result := &Result{PhrasesTested: phrases}

	type hitKey struct {
		phrase, collection, filename string
		chunk                        int
	}
	seen := make(map[hitKey]bool)

	for _, phrase := range phrases {
		if cached, ok := cache.get(phrase); ok {
			result.CacheHits++
			for _, h := range cached {
				k := hitKey{h.Phrase, h.Collection, h.Filename, h.ChunkIndex}
				if !seen[k] {
					seen[k] = true
					result.Hits = append(result.Hits, h)
				}
			}
			continue
		}

		var phraseHits []Hit
		for name, searcher := range p.collections {
			hits, err := searcher.Query(ctx, phrase, defaultTopKPerPhrase)
			if err != nil {
				// Capability-missing policy: degrade to an empty probe
				// for this collection rather than failing the turn.
				p.logger.Debug("probe query failed", "collection", name, "error", err)
				continue
			}
			for _, hit := range hits {
				if hit.Score < p.cfg.SimilarityThreshold {
					continue
				}
				phraseHits = append(phraseHits, Hit{
					Phrase:         phrase,
					Collection:     name,
					ChunkText:      hit.Text,
					Score:          hit.Score,
					Filename:       hit.Filename,
					ChunkIndex:     hit.ChunkIndex,
					ConfidenceTier: tierFor(hit.Score),
				})
			}
		}
		cache.put(phrase, phraseHits)
		for _, h := range phraseHits {
			k := hitKey{h.Phrase, h.Collection, h.Filename, h.ChunkIndex}
			if !seen[k] {
				seen[k] = true
				result.Hits = append(result.Hits, h)
			}
		}
	}

	result.PrimaryCollection, result.SupplementalCollections = rankCollections(result.Hits)
	result.ProbeTimeMS = msSince(start)
	p.record(sessionID, result)
	return result
}

// Stats returns the cumulative stats for a session.
func (p *Prober) Stats(sessionID string) SessionStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.stats[sessionID]; ok {
		return *s
	}
	return SessionStats{}
}

// PacketStats converts a result into the packet metrics shape.
func (r *Result) PacketStats(threshold float64) *packet.ProbeStats {
	stats := &packet.ProbeStats{
		PhrasesExtracted: len(r.PhrasesTested),
		TotalHits:        len(r.Hits),
		ProbeTimeMS:      r.ProbeTimeMS,
		FromCache:        r.CacheHits,
		Threshold:        threshold,
		Skipped:          r.Skipped,
	}
	matched := make(map[string]bool)
	collections := make(map[string]bool)
	min, max, sum := 0.0, 0.0, 0.0
	for i, h := range r.Hits {
		matched[h.Phrase] = true
		collections[h.Collection] = true
		sum += h.Score
		if i == 0 || h.Score < min {
			min = h.Score
		}
		if h.Score > max {
			max = h.Score
		}
	}
	stats.PhrasesMatched = len(matched)
	stats.CollectionsHit = len(collections)
	if len(r.Hits) > 0 {
		stats.SimilarityAvg = sum / float64(len(r.Hits))
		stats.SimilarityMax = max
		stats.SimilarityMin = min
	}
	return stats
}

func (p *Prober) cacheFor(sessionID string) *sessionCache {
	p.mu.Lock()
	defer p.mu.Unlock()
	cache, ok := p.caches[sessionID]
	if !ok {
		cache = newSessionCache(p.cfg.CacheMaxAgeTurns)
		p.caches[sessionID] = cache
	}
	return cache
}

func (p *Prober) record(sessionID string, r *Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	stats, ok := p.stats[sessionID]
	if !ok {
		stats = &SessionStats{}
		p.stats[sessionID] = stats
	}
	stats.Probes++
	if len(r.Hits) > 0 {
		stats.WithHits++
	}
	stats.TotalHits += len(r.Hits)
	stats.HitRate = float64(stats.WithHits) / float64(stats.Probes)
}

// rankCollections sorts hit collections by summed similarity with hit
// count as the tiebreaker: the top is primary, the rest supplemental.
func rankCollections(hits []Hit) (string, []string) {
	if len(hits) == 0 {
		return "", nil
	}
	type agg struct {
		name  string
		score float64
		count int
	}
	byName := make(map[string]*agg)
	for _, h := range hits {
		a, ok := byName[h.Collection]
		if !ok {
			a = &agg{name: h.Collection}
			byName[h.Collection] = a
		}
		a.score += h.Score
		a.count++
	}
	ranked := make([]*agg, 0, len(byName))
	for _, a := range byName {
		ranked = append(ranked, a)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].name < ranked[j].name
	})

	supplemental := make([]string, 0, len(ranked)-1)
	for _, a := range ranked[1:] {
		supplemental = append(supplemental, a.name)
	}
	return ranked[0].name, supplemental
}

func tierFor(score float64) string {
	switch {
	case score >= 0.70:
		return "high"
	case score >= 0.55:
		return "medium"
	default:
		return "low"
	}
}

func msSince(start time.Time) float64 {
	ms := float64(time.Since(start).Microseconds()) / 1000.0
	if ms <= 0 {
		ms = 0.001
	}
	return ms
}
