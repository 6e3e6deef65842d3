// Package priceStorage
package priceStorage

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// DefaultJupiterURL price endpoint, contract is passed in "ids" query param
const DefaultJupiterURL = "https://quote-api.jup.ag/v6/price"

// JupiterConfig params of http price source
type JupiterConfig struct {
	URL       string
	Timeout   time.Duration
	RateLimit float64
}

// JupiterSource price source over jupiter price http api
type JupiterSource struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	group   singleflight.Group
	active  atomic.Bool
}

// NewJupiterSource Constructor
func NewJupiterSource(conf JupiterConfig) *JupiterSource {
	if conf.URL == "" {
		conf.URL = DefaultJupiterURL
	}
	if conf.Timeout <= 0 || conf.Timeout > 10*time.Second {
		conf.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	burst := 1
	if conf.RateLimit > 0 {
		limit = rate.Limit(conf.RateLimit)
		burst = int(math.Max(1, conf.RateLimit))
	}
	src := &JupiterSource{
		url:     conf.URL,
		client:  &http.Client{Timeout: conf.Timeout},
		limiter: rate.NewLimiter(limit, burst),
	}
	src.active.Store(true)
	return src
}

// number jupiter returns price as number or as string depending on api version
type number float64

func (n *number) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*n = number(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*n = number(v)
	return nil
}

type jupiterResponse struct {
	Data map[string]struct {
		Price number `json:"price"`
	} `json:"data"`
}

// Price current price of contract. false when price can't be got or isn't positive
func (j *JupiterSource) Price(ctx context.Context, contract string) (float64, bool) {
	v, err, _ := j.group.Do(contract, func() (interface{}, error) {
		return j.fetch(ctx, contract)
	})
	if err != nil {
		logrus.WithError(err).WithField("contract", contract).Warn("price jupiter / Price")
		return 0, false
	}
	return validPrice(v.(float64))
}

func (j *JupiterSource) fetch(ctx context.Context, contract string) (float64, error) {
	if err := j.limiter.Wait(ctx); err != nil {
		return 0, errors.Wrap(err, "rate limit")
	}
	u, err := url.Parse(j.url)
	if err != nil {
		return 0, errors.Wrap(err, "parse url")
	}
	q := u.Query()
	q.Set("ids", contract)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, errors.Wrap(err, "build request")
	}
	resp, err := j.client.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "request")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, errors.Errorf("status %d", resp.StatusCode)
	}
	var body jupiterResponse
	if err = json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, errors.Wrap(err, "decode")
	}
	entry, exist := body.Data[contract]
	if !exist {
		return 0, errors.Errorf("no price for %s", contract)
	}
	return float64(entry.Price), nil
}

// Open mark http session active
func (j *JupiterSource) Open() {
	j.active.Store(true)
}

// Active http session is open
func (j *JupiterSource) Active() bool {
	return j.active.Load()
}

// Close release idle connections. Later lookups open new ones
func (j *JupiterSource) Close() error {
	j.active.Store(false)
	j.client.CloseIdleConnections()
	return nil
}

func validPrice(v float64) (float64, bool) {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
