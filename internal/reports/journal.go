// Package reports trade history and statistics of users
package reports

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	// sqlite driver
	_ "modernc.org/sqlite"

	"github.com/mrdjehknhc/axtest/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	position_id      TEXT NOT NULL,
	contract_address TEXT NOT NULL,
	action           TEXT NOT NULL,
	amount_sol       REAL NOT NULL,
	token_amount     REAL NOT NULL,
	price            REAL NOT NULL,
	pnl_percent      REAL NOT NULL,
	pnl_sol          REAL NOT NULL,
	ts               INTEGER NOT NULL,
	details          TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS trades_user_ts ON trades (user_id, ts);
`

// Journal trade history in sqlite
type Journal struct {
	DB *sql.DB
}

// NewJournal Constructor. Creates database file and schema
func NewJournal(ctx context.Context, path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("reports / NewJournal : empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "reports / NewJournal / create directory")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "reports / NewJournal / open")
	}
	// single writer
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)
	if _, err = db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "reports / NewJournal / schema")
	}
	return &Journal{DB: db}, nil
}

// Record add trade. Record with existing id is ignored
func (j *Journal) Record(ctx context.Context, rec model.TradeRecord) error {
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	_, err := j.DB.ExecContext(ctx, `INSERT OR IGNORE INTO trades
		(id, user_id, position_id, contract_address, action, amount_sol, token_amount, price, pnl_percent, pnl_sol, ts, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.PositionID, rec.ContractAddress, rec.Action,
		rec.AmountSOL, rec.TokenAmount, rec.Price, rec.PnLPercent, rec.PnLSOL,
		rec.Time.UnixNano(), rec.Details)
	if err != nil {
		return errors.Wrap(err, "reports / Record")
	}
	log.WithFields(log.Fields{"user": rec.UserID, "action": rec.Action, "contract": rec.ContractAddress}).Debug("reports / trade recorded")
	return nil
}

// UserTrades trades of user newer than days, newest first. days <= 0 means all time
func (j *Journal) UserTrades(ctx context.Context, userID string, days int) ([]model.TradeRecord, error) {
	var since int64
	if days > 0 {
		since = time.Now().AddDate(0, 0, -days).UnixNano()
	}
	rows, err := j.DB.QueryContext(ctx, `SELECT id, user_id, position_id, contract_address, action,
		amount_sol, token_amount, price, pnl_percent, pnl_sol, ts, details
		FROM trades WHERE user_id = ? AND ts > ? ORDER BY ts DESC, rowid DESC`, userID, since)
	if err != nil {
		return nil, errors.Wrap(err, "reports / UserTrades / query")
	}
	defer rows.Close()
	var trades []model.TradeRecord
	for rows.Next() {
		var rec model.TradeRecord
		var ts int64
		if err = rows.Scan(&rec.ID, &rec.UserID, &rec.PositionID, &rec.ContractAddress, &rec.Action,
			&rec.AmountSOL, &rec.TokenAmount, &rec.Price, &rec.PnLPercent, &rec.PnLSOL, &ts, &rec.Details); err != nil {
			return nil, errors.Wrap(err, "reports / UserTrades / scan")
		}
		rec.Time = time.Unix(0, ts)
		trades = append(trades, rec)
	}
	return trades, errors.Wrap(rows.Err(), "reports / UserTrades / rows")
}

// Close database
func (j *Journal) Close() error {
	return j.DB.Close()
}
