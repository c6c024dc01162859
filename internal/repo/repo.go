package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"stratline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const strategyColumns = `id,name,COALESCE(description,''),schedule,assets_json,COALESCE(notification_json,''),status,conditions_json,logic_tree_json,last_run_at,trigger_count,COALESCE(created_by,''),created_at,updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanStrategy(row scanner) (domain.StrategyRecord, error) {
	var (
		rec                                        domain.StrategyRecord
		assetsJSON, notifJSON, condsJSON, treeJSON string
		lastRun                                    sql.NullString
		triggers                                   int
	)
	err := row.Scan(&rec.ID, &rec.Name, &rec.Description, &rec.Schedule, &assetsJSON, &notifJSON, &rec.Status,
		&condsJSON, &treeJSON, &lastRun, &triggers, &rec.CreatedBy, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal([]byte(assetsJSON), &rec.Assets); err != nil {
		return rec, fmt.Errorf("strategy %s assets: %w", rec.ID, err)
	}
	if notifJSON != "" {
		if err := json.Unmarshal([]byte(notifJSON), &rec.NotificationPreferences); err != nil {
			return rec, fmt.Errorf("strategy %s notification preferences: %w", rec.ID, err)
		}
	}
	if err := json.Unmarshal([]byte(condsJSON), &rec.Conditions); err != nil {
		return rec, fmt.Errorf("strategy %s conditions: %w", rec.ID, err)
	}
	rec.LogicTree = &domain.Group{}
	if err := json.Unmarshal([]byte(treeJSON), rec.LogicTree); err != nil {
		return rec, fmt.Errorf("strategy %s logic tree: %w", rec.ID, err)
	}
	if lastRun.Valid {
		rec.LastRunAt = &lastRun.String
	}
	rec.TriggerCount = &triggers
	return rec, nil
}

type strategyJSON struct {
	assets, notification, conditions, tree string
}

func marshalStrategy(s domain.Strategy) (strategyJSON, error) {
	var out strategyJSON
	assets := s.Assets
	if assets == nil {
		assets = []string{}
	}
	b, err := json.Marshal(assets)
	if err != nil {
		return out, err
	}
	out.assets = string(b)
	if s.NotificationPreferences != nil {
		if b, err = json.Marshal(s.NotificationPreferences); err != nil {
			return out, err
		}
		out.notification = string(b)
	}
	conds := s.Conditions
	if conds == nil {
		conds = []domain.Condition{}
	}
	if b, err = json.Marshal(conds); err != nil {
		return out, fmt.Errorf("marshal conditions: %w", err)
	}
	out.conditions = string(b)
	tree := s.LogicTree
	if tree == nil {
		tree = &domain.Group{Operator: domain.OperatorAnd}
	}
	if b, err = json.Marshal(tree); err != nil {
		return out, fmt.Errorf("marshal logic tree: %w", err)
	}
	out.tree = string(b)
	return out, nil
}

// InsertStrategy stores a new strategy. Trigger count starts at zero.
func (r Repo) InsertStrategy(ctx context.Context, tx *sql.Tx, rec domain.StrategyRecord) error {
	j, err := marshalStrategy(rec.Strategy)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO strategies(id,name,description,schedule,assets_json,notification_json,status,conditions_json,logic_tree_json,created_by,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.Name, nullable(rec.Description), rec.Schedule, j.assets, nullable(j.notification), rec.Status,
		j.conditions, j.tree, nullable(rec.CreatedBy), rec.CreatedAt, rec.UpdatedAt)
	return err
}

// UpdateStrategy replaces the editable columns. Run bookkeeping is left alone.
func (r Repo) UpdateStrategy(ctx context.Context, tx *sql.Tx, rec domain.StrategyRecord) error {
	j, err := marshalStrategy(rec.Strategy)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE strategies SET name=?,description=?,schedule=?,assets_json=?,notification_json=?,status=?,conditions_json=?,logic_tree_json=?,updated_at=? WHERE id=?`,
		rec.Name, nullable(rec.Description), rec.Schedule, j.assets, nullable(j.notification), rec.Status,
		j.conditions, j.tree, rec.UpdatedAt, rec.ID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r Repo) UpdateStrategyStatus(ctx context.Context, tx *sql.Tx, id, status, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE strategies SET status=?,updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// RecordRun bumps the trigger count and stamps last_run_at.
func (r Repo) RecordRun(ctx context.Context, tx *sql.Tx, id, ranAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE strategies SET trigger_count=trigger_count+1,last_run_at=? WHERE id=?`, ranAt, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r Repo) DeleteStrategy(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM strategies WHERE id=?`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r Repo) GetStrategy(ctx context.Context, id string) (domain.StrategyRecord, error) {
	return scanStrategy(r.DB.QueryRowContext(ctx, `SELECT `+strategyColumns+` FROM strategies WHERE id=?`, id))
}

// StrategyFilter narrows ListStrategies. Zero values match everything.
type StrategyFilter struct {
	Status string
	Limit  int
}

func (r Repo) ListStrategies(ctx context.Context, f StrategyFilter) ([]domain.StrategyRecord, error) {
	query := `SELECT ` + strategyColumns + ` FROM strategies`
	var args []any
	if f.Status != "" {
		query += ` WHERE status=?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY updated_at DESC, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StrategyRecord
	for rows.Next() {
		rec, err := scanStrategy(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// EnsureActor registers actorID on first use.
func (r Repo) EnsureActor(ctx context.Context, tx *sql.Tx, actorID, now string) error {
	if actorID == "" {
		return errors.New("actor_id required")
	}
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actors(id, created_at) VALUES (?,?)`, actorID, now)
	return err
}

// EventFilter narrows LatestEvents. Cursor returns events older than that id.
type EventFilter struct {
	Type       string
	EntityKind string
	EntityID   string
	Cursor     int64
	Limit      int
}

func (r Repo) LatestEvents(ctx context.Context, f EventFilter) ([]domain.Event, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, f.Limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func expectAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
