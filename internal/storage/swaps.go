package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// Swap persistence errors
var (
	ErrSwapNotFound      = errors.New("swap not found")
	ErrSwapExists        = errors.New("swap already exists")
	ErrInvalidSwapState  = errors.New("invalid swap state")
	ErrInvalidTransition = errors.New("invalid swap state transition")
	ErrInvalidSwapRecord = errors.New("invalid swap record")
)

// SwapState is the lifecycle position of an HTLC output.
type SwapState string

const (
	SwapStateUnfunded SwapState = "unfunded"
	SwapStateFunded   SwapState = "funded"
	SwapStateClaimed  SwapState = "claimed"
	SwapStateRefunded SwapState = "refunded"
)

// ParseSwapState parses a state name.
func ParseSwapState(s string) (SwapState, error) {
	switch st := SwapState(strings.ToLower(s)); st {
	case SwapStateUnfunded, SwapStateFunded, SwapStateClaimed, SwapStateRefunded:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSwapState, s)
	}
}

// IsTerminal reports whether no further transition is possible.
func (s SwapState) IsTerminal() bool {
	return s == SwapStateClaimed || s == SwapStateRefunded
}

// CanTransitionTo reports whether next may follow s.
func (s SwapState) CanTransitionTo(next SwapState) bool {
	switch s {
	case SwapStateUnfunded:
		return next == SwapStateFunded
	case SwapStateFunded:
		return next == SwapStateClaimed || next == SwapStateRefunded
	default:
		return false
	}
}

// SwapRecord is a persisted HTLC.
type SwapRecord struct {
	ID      string `json:"id"`
	Symbol  string `json:"symbol"`
	Network string `json:"network"`

	ScriptHex      string `json:"script_hex"`
	FundingAddress string `json:"funding_address"`
	PaymentHash    string `json:"payment_hash"`
	Timelock       uint32 `json:"timelock"`

	State SwapState `json:"state"`

	FundingTxID string `json:"funding_txid,omitempty"`
	SpendTxID   string `json:"spend_txid,omitempty"`
	Secret      string `json:"secret,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const swapColumns = `id, symbol, network, script_hex, funding_address, payment_hash,
	timelock, state, funding_txid, spend_txid, secret, created_at, updated_at`

// SaveSwap inserts a new swap record. An empty ID is replaced by a fresh
// UUID and an empty state by unfunded.
func (s *Storage) SaveSwap(swap *SwapRecord) error {
	if swap.Symbol == "" || swap.Network == "" || swap.ScriptHex == "" || swap.FundingAddress == "" {
		return fmt.Errorf("%w: symbol, network, script and funding address required", ErrInvalidSwapRecord)
	}
	if swap.State == "" {
		swap.State = SwapStateUnfunded
	}
	if _, err := ParseSwapState(string(swap.State)); err != nil {
		return err
	}
	if swap.ID == "" {
		swap.ID = uuid.New().String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if swap.CreatedAt.IsZero() {
		swap.CreatedAt = now
	}
	swap.UpdatedAt = now

	query := `INSERT INTO swaps (` + swapColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.Exec(query,
		swap.ID,
		swap.Symbol,
		swap.Network,
		swap.ScriptHex,
		swap.FundingAddress,
		swap.PaymentHash,
		swap.Timelock,
		string(swap.State),
		nullString(swap.FundingTxID),
		nullString(swap.SpendTxID),
		nullString(swap.Secret),
		swap.CreatedAt.Unix(),
		swap.UpdatedAt.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrSwapExists, swap.FundingAddress)
		}
		return err
	}

	s.log.Debug("Saved swap", "id", swap.ID, "symbol", swap.Symbol, "address", swap.FundingAddress)
	return nil
}

// GetSwap retrieves a swap by ID.
func (s *Storage) GetSwap(id string) (*SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT `+swapColumns+` FROM swaps WHERE id = ?`, id)
	return scanSwapRecord(row)
}

// GetSwapByAddress retrieves a swap by its funding address.
func (s *Storage) GetSwapByAddress(symbol, network, address string) (*SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT `+swapColumns+` FROM swaps
		WHERE symbol = ? AND network = ? AND funding_address = ?`, symbol, network, address)
	return scanSwapRecord(row)
}

// ListSwaps returns swaps in state, oldest first. An empty state lists all.
func (s *Storage) ListSwaps(state SwapState) ([]*SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + swapColumns + ` FROM swaps`
	var args []interface{}
	if state != "" {
		query += ` WHERE state = ?`
		args = append(args, string(state))
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var swaps []*SwapRecord
	for rows.Next() {
		swap, err := scanSwapRecord(rows)
		if err != nil {
			return nil, err
		}
		swaps = append(swaps, swap)
	}
	return swaps, rows.Err()
}

// MarkFunded moves an unfunded swap to funded.
func (s *Storage) MarkFunded(id, fundingTxID string) error {
	return s.transition(id, SwapStateFunded, "funding_txid", fundingTxID, "")
}

// MarkClaimed moves a funded swap to claimed, recording the revealed secret
// when known.
func (s *Storage) MarkClaimed(id, spendTxID, secretHex string) error {
	return s.transition(id, SwapStateClaimed, "spend_txid", spendTxID, secretHex)
}

// MarkRefunded moves a funded swap to refunded.
func (s *Storage) MarkRefunded(id, spendTxID string) error {
	return s.transition(id, SwapStateRefunded, "spend_txid", spendTxID, "")
}

// transition checks the state machine and updates the swap in one
// transaction.
func (s *Storage) transition(id string, next SwapState, txColumn, txID, secretHex string) error {
	if txID == "" {
		return fmt.Errorf("%w: txid required", ErrInvalidSwapRecord)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRow(`SELECT state FROM swaps WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrSwapNotFound
	}
	if err != nil {
		return err
	}

	if !SwapState(current).CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
	}

	query := `UPDATE swaps SET state = ?, ` + txColumn + ` = ?, updated_at = ?,
		secret = COALESCE(?, secret) WHERE id = ?`
	if _, err := tx.Exec(query, string(next), txID, time.Now().Unix(), nullString(secretHex), id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.log.Info("Swap state changed", "id", id, "from", current, "to", next, "txid", txID)
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSwapRecord(row rowScanner) (*SwapRecord, error) {
	var swap SwapRecord
	var state string
	var fundingTxID, spendTxID, secret sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(
		&swap.ID,
		&swap.Symbol,
		&swap.Network,
		&swap.ScriptHex,
		&swap.FundingAddress,
		&swap.PaymentHash,
		&swap.Timelock,
		&state,
		&fundingTxID,
		&spendTxID,
		&secret,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSwapNotFound
	}
	if err != nil {
		return nil, err
	}

	swap.State = SwapState(state)
	swap.FundingTxID = fundingTxID.String
	swap.SpendTxID = spendTxID.String
	swap.Secret = secret.String
	swap.CreatedAt = time.Unix(createdAt, 0)
	swap.UpdatedAt = time.Unix(updatedAt, 0)

	return &swap, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
