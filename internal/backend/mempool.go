package backend

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/klingon-exchange/klingon-htlc/pkg/logging"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 512
)

// MempoolBackend speaks the mempool.space REST dialect, which
// litecoinspace.org and self-hosted mempool instances share.
type MempoolBackend struct {
	baseURL string
	client  *http.Client
	log     *logging.Logger
}

// NewMempoolBackend returns a client for baseURL. timeoutSeconds <= 0 means
// 30 seconds.
func NewMempoolBackend(baseURL string, timeoutSeconds int) *MempoolBackend {
	timeout := defaultTimeout
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	return &MempoolBackend{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		log:     logging.GetDefault().Component("backend").With("base_url", baseURL),
	}
}

// Type returns TypeMempool.
func (m *MempoolBackend) Type() Type {
	return TypeMempool
}

type txStatus struct {
	Confirmed   bool  `json:"confirmed"`
	BlockHeight int64 `json:"block_height"`
}

// confirmations counts blocks from the status height to tip inclusive. When
// the tip is unknown a confirmed output counts once.
func (s txStatus) confirmations(tip int64) int64 {
	switch {
	case !s.Confirmed || s.BlockHeight <= 0:
		return 0
	case tip <= 0:
		return 1
	default:
		return tip - s.BlockHeight + 1
	}
}

// GetAddressUTXOs lists the unspent outputs paying address.
func (m *MempoolBackend) GetAddressUTXOs(ctx context.Context, address string) ([]UTXO, error) {
	var outs []struct {
		TxID   string   `json:"txid"`
		Vout   uint32   `json:"vout"`
		Value  uint64   `json:"value"`
		Status txStatus `json:"status"`
	}
	if err := m.get(ctx, "/address/"+address+"/utxo", &outs); err != nil {
		return nil, err
	}

	tip, err := m.GetBlockHeight(ctx)
	if err != nil {
		m.log.Debug("Tip height unavailable", "error", err)
		tip = 0
	}

	utxos := make([]UTXO, 0, len(outs))
	for _, o := range outs {
		utxos = append(utxos, UTXO{
			TxID:          o.TxID,
			Vout:          o.Vout,
			Amount:        o.Value,
			Confirmations: o.Status.confirmations(tip),
			BlockHeight:   o.Status.BlockHeight,
		})
	}
	m.log.Debug("Fetched UTXOs", "address", address, "count", len(utxos))
	return utxos, nil
}

// GetAddressTxs returns the newest transactions touching address.
func (m *MempoolBackend) GetAddressTxs(ctx context.Context, address string) ([]Transaction, error) {
	var raw []mempoolTx
	if err := m.get(ctx, "/address/"+address+"/txs", &raw); err != nil {
		return nil, err
	}
	txs := make([]Transaction, 0, len(raw))
	for _, t := range raw {
		txs = append(txs, t.toTransaction())
	}
	return txs, nil
}

// GetRawTransaction returns the serialized transaction.
func (m *MempoolBackend) GetRawTransaction(ctx context.Context, txID string) ([]byte, error) {
	body, err := m.getText(ctx, "/tx/"+txID+"/hex")
	switch {
	case errors.Is(err, ErrAddressNotFound):
		return nil, ErrTxNotFound
	case err != nil:
		return nil, err
	}
	raw, err := hex.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("tx %s: bad hex: %w", txID, err)
	}
	return raw, nil
}

// BroadcastTransaction submits rawTxHex and returns the txid the server
// reports.
func (m *MempoolBackend) BroadcastTransaction(ctx context.Context, rawTxHex string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/tx", strings.NewReader(rawTxHex))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBroadcastFailed, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	msg := strings.TrimSpace(string(body))
	if resp.StatusCode != http.StatusOK {
		m.log.Warn("Broadcast rejected", "status", resp.StatusCode, "reason", msg)
		return "", &BroadcastError{Status: resp.StatusCode, Reason: msg}
	}
	m.log.Info("Broadcast transaction", "txid", msg)
	return msg, nil
}

// GetBlockHeight returns the chain tip height.
func (m *MempoolBackend) GetBlockHeight(ctx context.Context) (int64, error) {
	body, err := m.getText(ctx, "/blocks/tip/height")
	if err != nil {
		return 0, err
	}
	height, err := strconv.ParseInt(body, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("tip height %q: %w", body, err)
	}
	return height, nil
}

// GetFeeEstimates reads the recommended-fees endpoint.
func (m *MempoolBackend) GetFeeEstimates(ctx context.Context) (*FeeEstimate, error) {
	var rec struct {
		Fastest  float64 `json:"fastestFee"`
		HalfHour float64 `json:"halfHourFee"`
		Hour     float64 `json:"hourFee"`
		Economy  float64 `json:"economyFee"`
		Minimum  float64 `json:"minimumFee"`
	}
	if err := m.get(ctx, "/v1/fees/recommended", &rec); err != nil {
		return nil, err
	}
	return &FeeEstimate{
		FastestFee:  uint64(rec.Fastest),
		HalfHourFee: uint64(rec.HalfHour),
		HourFee:     uint64(rec.Hour),
		EconomyFee:  uint64(rec.Economy),
		MinimumFee:  uint64(rec.Minimum),
	}, nil
}

// open issues a GET and returns the body of a 200 response. 404 maps to
// ErrAddressNotFound and 429 to ErrRateLimited.
func (m *MempoolBackend) open(ctx context.Context, path string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	// CDNs in front of public instances serve stale tips otherwise.
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	if resp.StatusCode == http.StatusOK {
		return resp.Body, nil
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotFound:
		return nil, ErrAddressNotFound
	case http.StatusTooManyRequests:
		return nil, ErrRateLimited
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return nil, fmt.Errorf("%s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
}

func (m *MempoolBackend) get(ctx context.Context, path string, out any) error {
	body, err := m.open(ctx, path)
	if err != nil {
		return err
	}
	defer body.Close()
	if err := json.NewDecoder(body).Decode(out); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// getText returns the trimmed plain-text body.
func (m *MempoolBackend) getText(ctx context.Context, path string) (string, error) {
	body, err := m.open(ctx, path)
	if err != nil {
		return "", err
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

type mempoolVin struct {
	TxID     string   `json:"txid"`
	Vout     uint32   `json:"vout"`
	Witness  []string `json:"witness"`
	Sequence uint32   `json:"sequence"`
	Prevout  *struct {
		Address string `json:"scriptpubkey_address"`
	} `json:"prevout"`
}

type mempoolTx struct {
	TxID   string       `json:"txid"`
	Status txStatus     `json:"status"`
	Vin    []mempoolVin `json:"vin"`
}

func (t mempoolTx) toTransaction() Transaction {
	tx := Transaction{
		TxID:        t.TxID,
		Confirmed:   t.Status.Confirmed,
		BlockHeight: t.Status.BlockHeight,
		Inputs:      make([]TxInput, 0, len(t.Vin)),
	}
	for _, in := range t.Vin {
		ti := TxInput{TxID: in.TxID, Vout: in.Vout, Witness: in.Witness, Sequence: in.Sequence}
		if in.Prevout != nil {
			ti.PrevOutAddr = in.Prevout.Address
		}
		tx.Inputs = append(tx.Inputs, ti)
	}
	return tx
}

// FindSpend returns the first of txs with an input spending from address,
// or nil.
func FindSpend(txs []Transaction, address string) *Transaction {
	for i := range txs {
		for _, in := range txs[i].Inputs {
			if in.PrevOutAddr == address {
				return &txs[i]
			}
		}
	}
	return nil
}

// SpentTxID returns the txid of the output at address that spend consumes,
// or "" when spend does not touch address.
func SpentTxID(spend *Transaction, address string) string {
	for _, in := range spend.Inputs {
		if in.PrevOutAddr == address {
			return in.TxID
		}
	}
	return ""
}

var _ Backend = (*MempoolBackend)(nil)
