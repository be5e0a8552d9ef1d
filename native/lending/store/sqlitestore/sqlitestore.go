// Package sqlitestore is a durable ReserveStore/UserConfigStore
// implementation backed by sqlite, following the schema-on-open,
// JSON-blob-per-row pattern of the teacher's services/swapd/storage package.
// It exists so a poold deployment can survive a process restart without
// losing reserve accounting state; InMemoryReserveStore/InMemoryUserConfigStore
// in native/lending/store.go remain the default for tests and ephemeral runs.
package sqlitestore

import (
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	_ "github.com/glebarez/sqlite"

	"lendingpool/crypto"
	"lendingpool/fixedpoint"
	"lendingpool/native/lending"
)

// Store wraps a sqlite-backed *sql.DB implementing both of
// native/lending's persistence interfaces.
type Store struct {
	db *sql.DB
}

// Open initializes the backing sqlite database at path (a filesystem path,
// or "file::memory:?cache=shared" for an ephemeral in-process instance) and
// applies the schema if it is not already present.
func Open(path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("sqlitestore: path must be configured")
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS reserves (
    asset TEXT PRIMARY KEY,
    reserve_order INTEGER NOT NULL,
    data TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS user_configurations (
    address TEXT PRIMARY KEY,
    bitmap TEXT NOT NULL
);
`

// reserveRow is the JSON-on-disk encoding of lending.ReserveData. Addresses
// are stored as their bech32 string form and big.Int/FixedI128 fields as
// base-10 strings so the row round-trips exactly through database/sql.
type reserveRow struct {
	ID                  uint8  `json:"id"`
	Asset               string `json:"asset"`
	ReserveType         int    `json:"reserve_type"`
	SToken              string `json:"s_token"`
	DebtToken           string `json:"debt_token"`
	LenderAR            string `json:"lender_ar"`
	BorrowerAR          string `json:"borrower_ar"`
	LenderIR            string `json:"lender_ir"`
	BorrowerIR          string `json:"borrower_ir"`
	LastUpdateTimestamp uint64 `json:"last_update_timestamp"`
	SUnderlyingBalance  string `json:"s_underlying_balance"`
	RWATotalSupply      string `json:"rwa_total_supply"`
	ProtocolFeeVault    string `json:"protocol_fee_vault"`

	IsActive         bool   `json:"is_active"`
	BorrowingEnabled bool   `json:"borrowing_enabled"`
	LiquidityCap     string `json:"liquidity_cap"`
	PenOrder         uint32 `json:"pen_order"`
	UtilCapBps       uint32 `json:"util_cap_bps"`
	DiscountBps      uint32 `json:"discount_bps"`
	Decimals         uint32 `json:"decimals"`
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseBig(s string) (*big.Int, error) {
	if strings.TrimSpace(s) == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("sqlitestore: invalid integer %q", s)
	}
	return v, nil
}

func encodeAddress(a crypto.Address) string {
	if len(a.Bytes()) == 0 {
		return ""
	}
	return a.String()
}

func decodeAddress(s string) (crypto.Address, error) {
	if s == "" {
		return crypto.Address{}, nil
	}
	return crypto.DecodeAddress(s)
}

func toRow(data lending.ReserveData) (reserveRow, error) {
	row := reserveRow{
		ID:                  data.ID,
		Asset:               encodeAddress(data.Asset),
		ReserveType:         int(data.ReserveType),
		SToken:              encodeAddress(data.SToken),
		DebtToken:           encodeAddress(data.DebtToken),
		LenderAR:            bigString(data.LenderAR.Inner()),
		BorrowerAR:          bigString(data.BorrowerAR.Inner()),
		LenderIR:            bigString(data.LenderIR.Inner()),
		BorrowerIR:          bigString(data.BorrowerIR.Inner()),
		LastUpdateTimestamp: data.LastUpdateTimestamp,
		SUnderlyingBalance:  bigString(data.SUnderlyingBalance),
		RWATotalSupply:      bigString(data.RWATotalSupply),
		ProtocolFeeVault:    bigString(data.ProtocolFeeVault),
		IsActive:            data.Configuration.IsActive,
		BorrowingEnabled:    data.Configuration.BorrowingEnabled,
		LiquidityCap:        bigString(data.Configuration.LiquidityCap),
		PenOrder:            data.Configuration.PenOrder,
		UtilCapBps:          data.Configuration.UtilCapBps,
		DiscountBps:         data.Configuration.DiscountBps,
		Decimals:            data.Configuration.Decimals,
	}
	return row, nil
}

func fromRow(row reserveRow) (lending.ReserveData, error) {
	asset, err := decodeAddress(row.Asset)
	if err != nil {
		return lending.ReserveData{}, fmt.Errorf("sqlitestore: decode asset: %w", err)
	}
	sToken, err := decodeAddress(row.SToken)
	if err != nil {
		return lending.ReserveData{}, fmt.Errorf("sqlitestore: decode s_token: %w", err)
	}
	debtToken, err := decodeAddress(row.DebtToken)
	if err != nil {
		return lending.ReserveData{}, fmt.Errorf("sqlitestore: decode debt_token: %w", err)
	}

	lenderAR, err := parseFixed(row.LenderAR)
	if err != nil {
		return lending.ReserveData{}, err
	}
	borrowerAR, err := parseFixed(row.BorrowerAR)
	if err != nil {
		return lending.ReserveData{}, err
	}
	lenderIR, err := parseFixed(row.LenderIR)
	if err != nil {
		return lending.ReserveData{}, err
	}
	borrowerIR, err := parseFixed(row.BorrowerIR)
	if err != nil {
		return lending.ReserveData{}, err
	}

	sUnderlying, err := parseBig(row.SUnderlyingBalance)
	if err != nil {
		return lending.ReserveData{}, err
	}
	rwaSupply, err := parseBig(row.RWATotalSupply)
	if err != nil {
		return lending.ReserveData{}, err
	}
	feeVault, err := parseBig(row.ProtocolFeeVault)
	if err != nil {
		return lending.ReserveData{}, err
	}
	liquidityCap, err := parseBig(row.LiquidityCap)
	if err != nil {
		return lending.ReserveData{}, err
	}

	return lending.ReserveData{
		ID:          row.ID,
		Asset:       asset,
		ReserveType: lending.ReserveType(row.ReserveType),
		SToken:      sToken,
		DebtToken:   debtToken,
		Configuration: lending.ReserveConfiguration{
			IsActive:         row.IsActive,
			BorrowingEnabled: row.BorrowingEnabled,
			LiquidityCap:     liquidityCap,
			PenOrder:         row.PenOrder,
			UtilCapBps:       row.UtilCapBps,
			DiscountBps:      row.DiscountBps,
			Decimals:         row.Decimals,
		},
		LenderAR:            lenderAR,
		BorrowerAR:          borrowerAR,
		LenderIR:            lenderIR,
		BorrowerIR:          borrowerIR,
		LastUpdateTimestamp: row.LastUpdateTimestamp,
		SUnderlyingBalance:  sUnderlying,
		RWATotalSupply:      rwaSupply,
		ProtocolFeeVault:    feeVault,
	}, nil
}

func parseFixed(s string) (fixedpoint.FixedI128, error) {
	v, err := parseBig(s)
	if err != nil {
		return fixedpoint.FixedI128{}, err
	}
	f, err := fixedpoint.FromInner(v)
	if err != nil {
		return fixedpoint.FixedI128{}, fmt.Errorf("sqlitestore: decode fixed-point value: %w", err)
	}
	return f, nil
}

// GetReserve implements lending.ReserveStore.
func (s *Store) GetReserve(asset crypto.Address) (lending.ReserveData, bool, error) {
	var blob string
	err := s.db.QueryRow(`SELECT data FROM reserves WHERE asset = ?`, asset.String()).Scan(&blob)
	if err == sql.ErrNoRows {
		return lending.ReserveData{}, false, nil
	}
	if err != nil {
		return lending.ReserveData{}, false, fmt.Errorf("sqlitestore: query reserve: %w", err)
	}
	var row reserveRow
	if err := json.Unmarshal([]byte(blob), &row); err != nil {
		return lending.ReserveData{}, false, fmt.Errorf("sqlitestore: decode reserve row: %w", err)
	}
	data, err := fromRow(row)
	if err != nil {
		return lending.ReserveData{}, false, err
	}
	return data, true, nil
}

// PutReserve implements lending.ReserveStore.
func (s *Store) PutReserve(asset crypto.Address, data lending.ReserveData) error {
	row, err := toRow(data)
	if err != nil {
		return err
	}
	blob, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("sqlitestore: encode reserve row: %w", err)
	}
	var order int
	err = s.db.QueryRow(`SELECT COUNT(*) FROM reserves`).Scan(&order)
	if err != nil {
		return fmt.Errorf("sqlitestore: count reserves: %w", err)
	}
	_, err = s.db.Exec(`
        INSERT INTO reserves(asset, reserve_order, data) VALUES(?, ?, ?)
        ON CONFLICT(asset) DO UPDATE SET data = excluded.data
    `, asset.String(), order, string(blob))
	if err != nil {
		return fmt.Errorf("sqlitestore: upsert reserve: %w", err)
	}
	return nil
}

// ListReserves implements lending.ReserveStore, returning reserves ordered
// by insertion so ID assignment stays deterministic across a restart.
func (s *Store) ListReserves() ([]lending.ReserveData, error) {
	rows, err := s.db.Query(`SELECT data FROM reserves ORDER BY reserve_order ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list reserves: %w", err)
	}
	defer rows.Close()

	out := make([]lending.ReserveData, 0)
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan reserve: %w", err)
		}
		var row reserveRow
		if err := json.Unmarshal([]byte(blob), &row); err != nil {
			return nil, fmt.Errorf("sqlitestore: decode reserve row: %w", err)
		}
		data, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, rows.Err()
}

// GetUserConfiguration implements lending.UserConfigStore.
func (s *Store) GetUserConfiguration(who crypto.Address) (lending.UserConfiguration, bool, error) {
	var encoded string
	err := s.db.QueryRow(`SELECT bitmap FROM user_configurations WHERE address = ?`, who.String()).Scan(&encoded)
	if err == sql.ErrNoRows {
		return lending.UserConfiguration{}, false, nil
	}
	if err != nil {
		return lending.UserConfiguration{}, false, fmt.Errorf("sqlitestore: query user configuration: %w", err)
	}
	raw, err := hex.DecodeString(encoded)
	if err != nil || len(raw) != 32 {
		return lending.UserConfiguration{}, false, fmt.Errorf("sqlitestore: malformed bitmap for %s", who.String())
	}
	var buf [32]byte
	copy(buf[:], raw)
	return lending.UserConfigurationFromBytes(buf), true, nil
}

// PutUserConfiguration implements lending.UserConfigStore.
func (s *Store) PutUserConfiguration(who crypto.Address, cfg lending.UserConfiguration) error {
	buf := cfg.Bytes()
	_, err := s.db.Exec(`
        INSERT INTO user_configurations(address, bitmap) VALUES(?, ?)
        ON CONFLICT(address) DO UPDATE SET bitmap = excluded.bitmap
    `, who.String(), hex.EncodeToString(buf[:]))
	if err != nil {
		return fmt.Errorf("sqlitestore: upsert user configuration: %w", err)
	}
	return nil
}

var (
	_ lending.ReserveStore    = (*Store)(nil)
	_ lending.UserConfigStore = (*Store)(nil)
)
