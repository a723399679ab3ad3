// Package client is a REST client for a carbonledger node.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-resty/resty/v2"

	"github.com/uhyunpark/carbonledger/pkg/abci"
	"github.com/uhyunpark/carbonledger/pkg/api"
	"github.com/uhyunpark/carbonledger/pkg/app/core/transaction"
	"github.com/uhyunpark/carbonledger/pkg/crypto"
)

const (
	apiPrefix         = "/api/v1"
	defaultTimeout    = 15 * time.Second
	defaultRetries    = 2
	retryWait         = 250 * time.Millisecond
	retryMaxWait      = 2 * time.Second
	receiptPollPeriod = 200 * time.Millisecond
)

// ErrNotFound is returned when the node answers 404
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx answer from the node
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

type Client struct {
	http  *resty.Client
	token string
}

func New(baseURL string) *Client {
	h := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(defaultTimeout).
		SetRetryCount(defaultRetries).
		SetRetryWaitTime(retryWait).
		SetRetryMaxWaitTime(retryMaxWait).
		AddRetryCondition(isRetryable).
		SetHeader("Accept", "application/json")
	return &Client{http: h}
}

// isRetryable retries transport errors, rate limiting and a full mempool
func isRetryable(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}
	code := r.StatusCode()
	return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable
}

// SetToken attaches a session token to later requests
func (c *Client) SetToken(token string) { c.token = token }

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	req := c.http.R().SetContext(ctx)
	if c.token != "" {
		req.SetAuthToken(c.token)
	}
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	resp, err := req.Execute(method, apiPrefix+path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		apiErr := &APIError{Status: resp.StatusCode()}
		var er api.ErrorResponse
		if json.Unmarshal(resp.Body(), &er) == nil {
			apiErr.Code, apiErr.Message = er.Error, er.Message
		} else {
			apiErr.Message = string(resp.Body())
		}
		return apiErr
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return nil
}

// Login runs the challenge flow for key and keeps the issued token.
func (c *Client) Login(ctx context.Context, key *crypto.Signer) (api.LoginResponse, error) {
	var ch api.ChallengeResponse
	if err := c.do(ctx, http.MethodPost, "/auth/challenge", api.ChallengeRequest{Address: key.Address().Hex()}, &ch); err != nil {
		return api.LoginResponse{}, err
	}
	sig, err := key.SignPersonal([]byte(ch.Message))
	if err != nil {
		return api.LoginResponse{}, err
	}
	var out api.LoginResponse
	req := api.LoginRequest{Address: key.Address().Hex(), Signature: "0x" + common.Bytes2Hex(sig)}
	if err := c.do(ctx, http.MethodPost, "/auth/login", req, &out); err != nil {
		return api.LoginResponse{}, err
	}
	c.token = out.Token
	return out, nil
}

// SubmitTx queues a signed transaction and returns its receipt hash
func (c *Client) SubmitTx(ctx context.Context, tx *transaction.SignedTransaction) (string, error) {
	raw, err := tx.Serialize()
	if err != nil {
		return "", err
	}
	return c.SubmitRaw(ctx, raw)
}

func (c *Client) SubmitRaw(ctx context.Context, raw []byte) (string, error) {
	var out api.SubmitTxResponse
	if err := c.do(ctx, http.MethodPost, "/tx", raw, &out); err != nil {
		return "", err
	}
	return out.Hash, nil
}

func (c *Client) Receipt(ctx context.Context, hash string) (abci.TxResult, error) {
	var out abci.TxResult
	err := c.do(ctx, http.MethodGet, "/tx/"+hash, nil, &out)
	return out, err
}

// WaitReceipt polls until the transaction lands in a block or ctx is done
func (c *Client) WaitReceipt(ctx context.Context, hash string) (abci.TxResult, error) {
	ticker := time.NewTicker(receiptPollPeriod)
	defer ticker.Stop()
	for {
		res, err := c.Receipt(ctx, hash)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return abci.TxResult{}, err
		}
		select {
		case <-ctx.Done():
			return abci.TxResult{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// NextNonce is the nonce the next transaction from addr should carry
func (c *Client) NextNonce(ctx context.Context, addr common.Address) (uint64, error) {
	var out api.NonceInfo
	if err := c.do(ctx, http.MethodGet, "/accounts/"+addr.Hex()+"/nonce", nil, &out); err != nil {
		return 0, err
	}
	return out.Next, nil
}

func (c *Client) Order(ctx context.Context, id uint64) (api.OrderInfo, error) {
	var out api.OrderInfo
	err := c.do(ctx, http.MethodGet, "/orders/"+strconv.FormatUint(id, 10), nil, &out)
	return out, err
}

func (c *Client) Reputation(ctx context.Context, addr common.Address) (api.ReputationInfo, error) {
	var out api.ReputationInfo
	err := c.do(ctx, http.MethodGet, "/traders/"+addr.Hex()+"/reputation", nil, &out)
	return out, err
}

func (c *Client) Balances(ctx context.Context, addr common.Address) (api.BalancesInfo, error) {
	var out api.BalancesInfo
	err := c.do(ctx, http.MethodGet, "/accounts/"+addr.Hex()+"/balances", nil, &out)
	return out, err
}

func (c *Client) Orderbook(ctx context.Context, depth int) (api.OrderbookSnapshot, error) {
	var out api.OrderbookSnapshot
	err := c.do(ctx, http.MethodGet, "/orderbook?depth="+strconv.Itoa(depth), nil, &out)
	return out, err
}

func (c *Client) Listings(ctx context.Context) ([]api.ListingInfo, error) {
	var out []api.ListingInfo
	err := c.do(ctx, http.MethodGet, "/listings", nil, &out)
	return out, err
}

func (c *Client) Status(ctx context.Context) (api.ChainStatus, error) {
	var out api.ChainStatus
	err := c.do(ctx, http.MethodGet, "/chain/status", nil, &out)
	return out, err
}

// Approve grants the escrow account amount of asset. Needs a session.
func (c *Client) Approve(ctx context.Context, asset, amount string) (api.AssetBalance, error) {
	var out api.AssetBalance
	err := c.do(ctx, http.MethodPost, "/accounts/approve", api.ApproveRequest{Asset: asset, Amount: amount}, &out)
	return out, err
}

// Mint credits amount of asset to an address. Needs the minter's session.
func (c *Client) Mint(ctx context.Context, asset string, to common.Address, amount string) (api.AssetBalance, error) {
	var out api.AssetBalance
	err := c.do(ctx, http.MethodPost, "/mint", api.MintRequest{Asset: asset, To: to.Hex(), Amount: amount}, &out)
	return out, err
}
