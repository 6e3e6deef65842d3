package tradeClient

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Config trade api params
type Config struct {
	BaseURL      string
	AccessToken  string
	RefreshToken string
	Wallet       string
	PrivateKey   string
	Timeout      time.Duration
	RateLimit    float64
}

// Client trade api client. Requests are signed on the api side with wallet private key
type Client struct {
	conf    Config
	http    *http.Client
	limiter *rate.Limiter

	mu          sync.RWMutex
	accessToken string
}

// NewClient Constructor
func NewClient(conf Config) *Client {
	if conf.Timeout <= 0 {
		conf.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	if conf.RateLimit > 0 {
		limit = rate.Limit(conf.RateLimit)
	}
	return &Client{
		conf:        conf,
		http:        &http.Client{Timeout: conf.Timeout},
		limiter:     rate.NewLimiter(limit, 1),
		accessToken: conf.AccessToken,
	}
}

type buyBody struct {
	PrivateKey string `json:"private_key"`
	Wallet     string `json:"wallet"`
	BuyRequest
}

type sellBody struct {
	PrivateKey string `json:"private_key"`
	Wallet     string `json:"wallet"`
	SellRequest
}

type balanceResponse struct {
	SOL     float64 `json:"sol"`
	Balance float64 `json:"balance"`
}

// Buy token
func (c *Client) Buy(ctx context.Context, req BuyRequest) (Result, error) {
	var res Result
	err := c.do(ctx, http.MethodPost, "/trade/buy", nil, buyBody{PrivateKey: c.conf.PrivateKey, Wallet: c.conf.Wallet, BuyRequest: req}, &res)
	if err != nil {
		return Result{}, errors.Wrap(err, "trade client / Buy")
	}
	return res, errors.Wrap(res.Err(), "trade client / Buy")
}

// Sell tokens
func (c *Client) Sell(ctx context.Context, req SellRequest) (Result, error) {
	var res Result
	err := c.do(ctx, http.MethodPost, "/trade/sell", nil, sellBody{PrivateKey: c.conf.PrivateKey, Wallet: c.conf.Wallet, SellRequest: req}, &res)
	if err != nil {
		return Result{}, errors.Wrap(err, "trade client / Sell")
	}
	return res, errors.Wrap(res.Err(), "trade client / Sell")
}

// TokenBalance token balance of wallet
func (c *Client) TokenBalance(ctx context.Context, contract string) (float64, error) {
	var res balanceResponse
	query := url.Values{"wallet": {c.conf.Wallet}, "mint": {contract}}
	if err := c.do(ctx, http.MethodGet, "/wallet/token-balance", query, nil, &res); err != nil {
		return 0, errors.Wrap(err, "trade client / TokenBalance")
	}
	return res.Balance, nil
}

// AccountBalance SOL balance of wallet
func (c *Client) AccountBalance(ctx context.Context) (float64, error) {
	var res balanceResponse
	query := url.Values{"wallet": {c.conf.Wallet}}
	if err := c.do(ctx, http.MethodGet, "/wallet/balance", query, nil, &res); err != nil {
		return 0, errors.Wrap(err, "trade client / AccountBalance")
	}
	return res.SOL, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out interface{}) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return errors.Wrap(err, "encode")
		}
	}
	code, err := c.send(ctx, method, path, query, payload, out)
	if code == http.StatusUnauthorized && c.conf.RefreshToken != "" {
		if err = c.refresh(ctx); err != nil {
			return err
		}
		_, err = c.send(ctx, method, path, query, payload, out)
	}
	return err
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, payload []byte, out interface{}) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, errors.Wrap(err, "rate limit")
	}
	u := strings.TrimRight(c.conf.BaseURL, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(payload))
	if err != nil {
		return 0, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	c.mu.RLock()
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}
	c.mu.RUnlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, errors.Errorf("%s %s : status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, errors.Wrapf(err, "%s %s : decode", method, path)
		}
	}
	return resp.StatusCode, nil
}

func (c *Client) refresh(ctx context.Context) error {
	var res struct {
		AccessToken string `json:"access_token"`
	}
	payload, err := json.Marshal(map[string]string{"refresh_token": c.conf.RefreshToken})
	if err != nil {
		return errors.Wrap(err, "encode refresh")
	}
	c.mu.Lock()
	c.accessToken = ""
	c.mu.Unlock()
	if _, err = c.send(ctx, http.MethodPost, "/auth/refresh", nil, payload, &res); err != nil {
		return errors.Wrap(err, "refresh token")
	}
	if res.AccessToken == "" {
		return errors.New("refresh token : empty access token")
	}
	c.mu.Lock()
	c.accessToken = res.AccessToken
	c.mu.Unlock()
	logrus.Info("trade client / access token refreshed")
	return nil
}
