package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	"github.com/mrdjehknhc/axtest/internal/model"
)

const chanelPositionUpdate = "position_update"

const schemaPositions = `CREATE TABLE IF NOT EXISTS positions(
	id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	contract_address TEXT NOT NULL,
	invested_sol DOUBLE PRECISION NOT NULL,
	token_amount DOUBLE PRECISION NOT NULL,
	entry_price DOUBLE PRECISION NOT NULL,
	current_price DOUBLE PRECISION NOT NULL,
	pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
	sl DOUBLE PRECISION NOT NULL,
	tp_levels JSONB NOT NULL DEFAULT '[]',
	breakeven_percent DOUBLE PRECISION NOT NULL,
	slippage_percent DOUBLE PRECISION NOT NULL,
	transaction_hash TEXT NOT NULL DEFAULT '',
	opened_at DOUBLE PRECISION NOT NULL,
	breakeven_moved BOOLEAN NOT NULL DEFAULT FALSE,
	tp_executed INT[] NOT NULL DEFAULT '{}',
	PRIMARY KEY (user_id, id)
)`

const positionColumns = `id, user_id, contract_address, invested_sol, token_amount, entry_price, current_price, pnl,
	sl, tp_levels, breakeven_percent, slippage_percent, transaction_hash, opened_at, breakeven_moved, tp_executed`

// PositionRepository position registry in postgres, one row per position
type PositionRepository struct {
	Pool *pgxpool.Pool
}

// Migrate create table positions
func (p *PositionRepository) Migrate(ctx context.Context) error {
	if _, err := p.Pool.Exec(ctx, schemaPositions); err != nil {
		return fmt.Errorf("repository Position / Migrate : %v", err)
	}
	return nil
}

func scanPosition(row pgx.Row) (model.Position, error) {
	var (
		pos      model.Position
		ladder   []byte
		executed []int32
	)
	err := row.Scan(
		&pos.ID,
		&pos.UserID,
		&pos.ContractAddress,
		&pos.InvestedSOL,
		&pos.TokenAmount,
		&pos.EntryPrice,
		&pos.CurrentPrice,
		&pos.PnL,
		&pos.StopLoss,
		&ladder,
		&pos.BreakevenPercent,
		&pos.SlippagePercent,
		&pos.TransactionHash,
		&pos.Timestamp,
		&pos.BreakevenMoved,
		&executed,
	)
	if err != nil {
		return model.Position{}, err
	}
	if len(ladder) > 0 {
		if err = json.Unmarshal(ladder, &pos.TakeProfitLevels); err != nil {
			return model.Position{}, errors.Wrap(err, "decode tp_levels")
		}
	}
	pos.TakeProfitExecuted = make([]int, 0, len(executed))
	for _, i := range executed {
		pos.TakeProfitExecuted = append(pos.TakeProfitExecuted, int(i))
	}
	return pos, nil
}

func encodeLadder(rungs []model.TakeProfitRung) (string, error) {
	if rungs == nil {
		rungs = []model.TakeProfitRung{}
	}
	data, err := json.Marshal(rungs)
	return string(data), err
}

func executedArray(executed []int) []int32 {
	out := make([]int32, 0, len(executed))
	for _, i := range executed {
		out = append(out, int32(i))
	}
	return out
}

// Add insert new position
func (p *PositionRepository) Add(ctx context.Context, userID string, position model.Position) error {
	if position.EntryPrice <= 0 {
		return errors.Wrapf(model.ErrInvalidEntryPrice, "repository Position / Add / %s", position.ID)
	}
	ladder, err := encodeLadder(position.TakeProfitLevels)
	if err != nil {
		return fmt.Errorf("repository Position / Add / encode ladder : %v", err)
	}
	querySQL := `INSERT INTO positions(` + positionColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10::jsonb,$11,$12,$13,$14,$15,$16)
		ON CONFLICT DO NOTHING`
	cm, err := p.Pool.Exec(ctx, querySQL,
		position.ID,
		userID,
		position.ContractAddress,
		position.InvestedSOL,
		position.TokenAmount,
		position.EntryPrice,
		position.CurrentPrice,
		position.PnL,
		position.StopLoss,
		ladder,
		position.BreakevenPercent,
		position.SlippagePercent,
		position.TransactionHash,
		position.Timestamp,
		position.BreakevenMoved,
		executedArray(position.TakeProfitExecuted),
	)
	if err != nil {
		return fmt.Errorf("repository Position / Add : %v ", err)
	}
	if cm.RowsAffected() == 0 {
		return errors.Wrapf(model.ErrPositionExists, "repository Position / Add / %s", position.ID)
	}
	return nil
}

// List positions of user in open order
func (p *PositionRepository) List(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := p.Pool.Query(ctx, "SELECT "+positionColumns+" FROM positions WHERE user_id=$1 ORDER BY opened_at, id", userID)
	if err != nil {
		return nil, fmt.Errorf("repository Position / List / query : %v", err)
	}
	defer rows.Close()
	var positions []model.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("repository Position / List / scan : %v", err)
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

// Get position of user
func (p *PositionRepository) Get(ctx context.Context, userID, positionID string) (model.Position, bool, error) {
	row := p.Pool.QueryRow(ctx, "SELECT "+positionColumns+" FROM positions WHERE user_id=$1 AND id=$2", userID, positionID)
	pos, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Position{}, false, nil
	}
	if err != nil {
		return model.Position{}, false, fmt.Errorf("repository Position / Get : %v", err)
	}
	return pos, true, nil
}

// Update merge patch into row inside transaction. Missing row is a no-op
func (p *PositionRepository) Update(ctx context.Context, userID, positionID string, patch model.PositionPatch) (bool, error) {
	tx, err := p.Pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("repository Position / Update / begin : %v", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, "SELECT "+positionColumns+" FROM positions WHERE user_id=$1 AND id=$2 FOR UPDATE", userID, positionID)
	pos, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("repository Position / Update / select : %v", err)
	}
	pos.Apply(patch)
	ladder, err := encodeLadder(pos.TakeProfitLevels)
	if err != nil {
		return false, fmt.Errorf("repository Position / Update / encode ladder : %v", err)
	}
	querySQL := `UPDATE positions SET token_amount=$1, current_price=$2, pnl=$3, sl=$4, tp_levels=$5::jsonb,
		breakeven_percent=$6, breakeven_moved=$7, tp_executed=$8 WHERE user_id=$9 AND id=$10`
	if _, err = tx.Exec(ctx, querySQL,
		pos.TokenAmount,
		pos.CurrentPrice,
		pos.PnL,
		pos.StopLoss,
		ladder,
		pos.BreakevenPercent,
		pos.BreakevenMoved,
		executedArray(pos.TakeProfitExecuted),
		userID,
		positionID,
	); err != nil {
		return false, fmt.Errorf("repository Position / Update / update : %v", err)
	}
	if _, err = tx.Exec(ctx, "SELECT pg_notify($1, $2)", chanelPositionUpdate, userID+"|"+positionID); err != nil {
		return false, fmt.Errorf("repository Position / Update / notify : %v", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("repository Position / Update / commit : %v", err)
	}
	return true, nil
}

// Remove delete position
func (p *PositionRepository) Remove(ctx context.Context, userID, positionID string) (bool, error) {
	cm, err := p.Pool.Exec(ctx, "DELETE FROM positions WHERE user_id=$1 AND id=$2", userID, positionID)
	if err != nil {
		return false, fmt.Errorf("repository Position / Remove : %v", err)
	}
	return cm.Delete() && cm.RowsAffected() > 0, nil
}

// All snapshot grouped by user
func (p *PositionRepository) All(ctx context.Context) (model.Snapshot, error) {
	rows, err := p.Pool.Query(ctx, "SELECT "+positionColumns+" FROM positions ORDER BY user_id, opened_at, id")
	if err != nil {
		return nil, fmt.Errorf("repository Position / All / query : %v", err)
	}
	defer rows.Close()
	snap := model.Snapshot{}
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("repository Position / All / scan : %v", err)
		}
		snap[pos.UserID] = append(snap[pos.UserID], pos)
	}
	return snap, rows.Err()
}

// WatchUpdates G listen update notifications of other instances until ctx done
func (p *PositionRepository) WatchUpdates(ctx context.Context, fn func(payload string)) error {
	conn, err := p.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("repository Position / WatchUpdates / acquire : %v", err)
	}
	defer conn.Release()
	if _, err = conn.Exec(ctx, "LISTEN "+chanelPositionUpdate); err != nil {
		return fmt.Errorf("repository Position / WatchUpdates / listen : %v", err)
	}
	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("repository Position / WatchUpdates / wait : %v", err)
		}
		fn(notification.Payload)
	}
}
