package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/patrickwarner/openpersonalize/internal/models"
	"github.com/patrickwarner/openpersonalize/internal/observability"
)

var (
	server          string
	users           int
	totalReq        int
	conc            int
	duration        time.Duration
	rate            float64
	stats           bool
	flush           bool
	debug           bool
	label           string
	surgeInterval   time.Duration
	surgeDuration   time.Duration
	surgeMultiplier float64
	jitter          float64
)

var logger *zap.Logger

var httpClient *http.Client

var (
	userAgents = []string{
		"Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1",
		"Mozilla/5.0 (Linux; Android 12; Pixel 6 Pro) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0.5735.196 Mobile Safari/537.36",
		"Mozilla/5.0 (iPad; CPU OS 15_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.2 Mobile/15E148 Safari/604.1",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_3_1) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.1 Safari/605.1.15",
		"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:111.0) Gecko/20100101 Firefox/111.0",
	}
	userIPs = []string{
		"192.0.2.1",
		"198.51.100.1",
		"203.0.113.1",
	}
	categories = []string{"exit_planning", "business_valuation", "financing", "tax_strategy", "succession"}
	formats    = []string{"guide", "article", "video", "calculator", "webinar"}
	// visitEvents is weighted towards page views like real traffic.
	visitEvents = []models.EventType{
		models.EventPageView, models.EventPageView, models.EventPageView,
		models.EventResourceView, models.EventResourceView,
		models.EventDownload, models.EventPreview, models.EventVideoProgress,
		models.EventTimeSpent, models.EventResourceComplete,
	}
)

const statsInterval = 5 * time.Second

var (
	countSent     uint64
	countSuccess  uint64
	countErrors   uint64
	countMatched  uint64
	countCacheHit uint64
)

func main() {
	flag.StringVar(&server, "server", "http://localhost:8787", "personalization server base URL")
	flag.IntVar(&users, "users", 100, "number of unique visitors")
	flag.IntVar(&totalReq, "requests", 1000, "total visits to simulate")
	flag.IntVar(&conc, "concurrency", 20, "concurrent visits")
	flag.DurationVar(&duration, "duration", 0, "how long to run traffic (0 to disable)")
	flag.Float64Var(&rate, "rate", 0, "visits per second (0 for unlimited)")
	flag.BoolVar(&stats, "stats", false, "print aggregated stats periodically")
	flag.BoolVar(&flush, "flush", false, "flush the personalization cache before sending traffic")
	flag.BoolVar(&debug, "debug", false, "enable verbose debug logs")
	flag.StringVar(&label, "label", "", "label to identify this run")
	flag.DurationVar(&surgeInterval, "surge-interval", 0, "interval between traffic surges (0 to disable)")
	flag.DurationVar(&surgeDuration, "surge-duration", 0, "duration of each surge window")
	flag.Float64Var(&surgeMultiplier, "surge-multiplier", 2.0, "visit multiplier during surge period")
	flag.Float64Var(&jitter, "jitter", 0.0, "random jitter factor for visit spacing")
	flag.Parse()

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	var err error
	logger, err = observability.InitLoggerWithLevel(level, "traffic-simulator")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	httpClient = &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 10 * time.Second,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			MaxConnsPerHost:       50,
			IdleConnTimeout:       90 * time.Second,
		},
	}

	if label == "" {
		label = time.Now().Format(time.RFC3339)
	}

	if flush {
		var out struct {
			Deleted int64 `json:"deleted"`
		}
		if err := post(context.Background(), "/api/cache/flush", nil, "", "", &out); err != nil {
			logger.Fatal("cache flush", zap.Error(err))
		}
		logger.Info("personalization cache flushed", zap.Int64("keys_deleted", out.Deleted))
	}

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	var rmu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, conc)
	done := make(chan struct{})

	var baseInterval time.Duration
	if rate > 0 {
		baseInterval = time.Duration(float64(time.Second) / rate)
	} else if duration > 0 && totalReq > 0 {
		baseInterval = duration / time.Duration(totalReq)
	}

	start := time.Now()
	next := start

	if stats {
		go func() {
			ticker := time.NewTicker(statsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					printStats()
				case <-done:
					printStats()
					return
				}
			}
		}()
	}
	for i := 0; ; i++ {
		if totalReq > 0 && i >= totalReq {
			break
		}
		if duration > 0 && time.Since(start) >= duration {
			break
		}
		if baseInterval > 0 {
			effective := baseInterval
			if surgeInterval > 0 && surgeDuration > 0 && surgeMultiplier > 0 {
				if time.Since(start)%surgeInterval < surgeDuration {
					effective = time.Duration(float64(effective) / surgeMultiplier)
				}
			}
			if jitter > 0 {
				jf := max(1+(r.Float64()*2-1)*jitter, 0.1)
				effective = time.Duration(float64(effective) * jf)
			}
			if now := time.Now(); now.Before(next) {
				time.Sleep(next.Sub(now))
			}
			next = next.Add(effective)
		}

		rmu.Lock()
		v := newVisit(r)
		rmu.Unlock()

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			atomic.AddUint64(&countSent, 1)
			simulate(v)
		}()
	}
	wg.Wait()
	close(done)
	if !stats {
		printStats()
	}
}

// visit is one simulated page load: an interaction followed by an evaluation.
type visit struct {
	userID  string
	persona models.Persona
	ua      string
	ip      string
	event   models.InteractionEvent
}

func newVisit(r *rand.Rand) visit {
	n := r.Intn(users)
	userID := fmt.Sprintf("visitor%d", n)
	// A visitor keeps the same persona across visits.
	persona := models.Personas[n%len(models.Personas)]
	ev := models.InteractionEvent{
		UserID:     userID,
		EventType:  visitEvents[r.Intn(len(visitEvents))],
		ResourceID: fmt.Sprintf("content-%d", r.Intn(40)+1),
		Category:   categories[r.Intn(len(categories))],
		Format:     formats[r.Intn(len(formats))],
		Persona:    persona,
	}
	switch ev.EventType {
	case models.EventVideoProgress:
		ev.Value = float64(r.Intn(101))
	case models.EventTimeSpent:
		ev.Value = float64(r.Intn(600))
	}
	return visit{
		userID:  userID,
		persona: persona,
		ua:      userAgents[r.Intn(len(userAgents))],
		ip:      userIPs[r.Intn(len(userIPs))],
		event:   ev,
	}
}

func simulate(v visit) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := post(ctx, "/api/interactions", v.event, v.ua, v.ip, nil); err != nil {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("track interaction", zap.String("user_id", v.userID), zap.Error(err))
		return
	}

	var res struct {
		MatchedRules []string `json:"matched_rules"`
		CacheHit     bool     `json:"cache_hit"`
	}
	body := map[string]any{"user_id": v.userID, "persona": v.persona}
	if err := post(ctx, "/api/evaluate", body, v.ua, v.ip, &res); err != nil {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("evaluate", zap.String("user_id", v.userID), zap.Error(err))
		return
	}
	if len(res.MatchedRules) > 0 {
		atomic.AddUint64(&countMatched, 1)
	}
	if res.CacheHit {
		atomic.AddUint64(&countCacheHit, 1)
	}
	atomic.AddUint64(&countSuccess, 1)
	logger.Debug("visit",
		zap.String("user_id", v.userID),
		zap.String("event", string(v.event.EventType)),
		zap.Int("matched_rules", len(res.MatchedRules)),
		zap.Bool("cache_hit", res.CacheHit))
}

// post sends body as JSON and decodes a 2xx response into out when non-nil.
func post(ctx context.Context, path string, body any, ua, ip string, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(server, "/")+path, &buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	if ip != "" {
		req.Header.Set("X-Forwarded-For", ip)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(blob)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(blob, out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

func printStats() {
	sent := atomic.LoadUint64(&countSent)
	succ := atomic.LoadUint64(&countSuccess)
	errs := atomic.LoadUint64(&countErrors)
	matched := atomic.LoadUint64(&countMatched)
	hits := atomic.LoadUint64(&countCacheHit)
	var hitRate float64
	if succ > 0 {
		hitRate = float64(hits) / float64(succ)
	}
	logger.Info("stats",
		zap.String("run", label),
		zap.Uint64("sent", sent),
		zap.Uint64("success", succ),
		zap.Uint64("errors", errs),
		zap.Uint64("rule_matches", matched),
		zap.Uint64("cache_hits", hits),
		zap.Float64("cache_hit_rate", hitRate))
}
