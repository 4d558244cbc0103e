package transaction

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"zenoo/errors"
	"zenoo/logging"
)

// DefaultJournalTable 默认表名
const DefaultJournalTable = "zenoo_tx_journal"

// SQLJournalConfig SQL 事务日志配置
type SQLJournalConfig struct {
	DB    *sql.DB
	Table string

	// DollarPlaceholders 使用 $1 形式的占位符（PostgreSQL），默认为 ?
	DollarPlaceholders bool

	Logger logging.Logger
}

// SQLJournal 基于 database/sql 的事务日志
//
// upsert 使用 ON CONFLICT 语法，适用于 SQLite 与 PostgreSQL。
type SQLJournal struct {
	db     *sql.DB
	table  string
	dollar bool
	logger logging.Logger
}

// NewSQLJournal 创建 SQL 事务日志，需先调用 Init 建表
func NewSQLJournal(cfg SQLJournalConfig) (*SQLJournal, error) {
	if cfg.DB == nil {
		return nil, errors.NewValidationError("SQL 事务日志缺少数据库连接")
	}
	table := cfg.Table
	if table == "" {
		table = DefaultJournalTable
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetLogger().WithFields(logging.String("component", "transaction.journal"))
	}
	return &SQLJournal{db: cfg.DB, table: table, dollar: cfg.DollarPlaceholders, logger: logger}, nil
}

// Init 建表（幂等）
func (j *SQLJournal) Init(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	scope_id   TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	operations TEXT NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	started_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL
)`, j.table)
	if _, err := j.db.ExecContext(ctx, ddl); err != nil {
		return errors.WrapError(err, errors.ErrCodeInternal, "创建事务日志表失败")
	}
	return nil
}

// bind 把 ? 占位符改写为目标方言
func (j *SQLJournal) bind(query string) string {
	if !j.dollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Load 加载快照
func (j *SQLJournal) Load(ctx context.Context, scopeID string) (*State, error) {
	row := j.db.QueryRowContext(ctx, j.bind(fmt.Sprintf(
		`SELECT scope_id, status, operations, error, started_at, updated_at FROM %s WHERE scope_id = ?`, j.table)),
		scopeID)
	st, err := scanState(row)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, ErrScopeNotFound
	}
	return st, err
}

// Save 保存快照
func (j *SQLJournal) Save(ctx context.Context, state *State) error {
	if state == nil || state.ScopeID == "" {
		return errors.NewValidationError("事务快照缺少 scope_id")
	}
	ops, err := json.Marshal(state.Operations)
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeInternal, "序列化事务日志失败")
	}
	updated := state.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	_, err = j.db.ExecContext(ctx, j.bind(fmt.Sprintf(
		`INSERT INTO %s (scope_id, status, operations, error, started_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (scope_id) DO UPDATE SET
	status = excluded.status,
	operations = excluded.operations,
	error = excluded.error,
	updated_at = excluded.updated_at`, j.table)),
		state.ScopeID, string(state.Status), string(ops), state.Error,
		state.StartedAt.UnixNano(), updated.UnixNano())
	if err != nil {
		j.logger.Warn(ctx, "保存事务日志失败", logging.String("scope_id", state.ScopeID), logging.Error(err))
		return errors.WrapError(err, errors.ErrCodeInternal, "保存事务日志失败")
	}
	return nil
}

// Delete 删除快照
func (j *SQLJournal) Delete(ctx context.Context, scopeID string) error {
	_, err := j.db.ExecContext(ctx, j.bind(fmt.Sprintf(`DELETE FROM %s WHERE scope_id = ?`, j.table)), scopeID)
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeInternal, "删除事务日志失败")
	}
	return nil
}

// List 按开始时间列出快照
func (j *SQLJournal) List(ctx context.Context, status Status) ([]*State, error) {
	query := fmt.Sprintf(`SELECT scope_id, status, operations, error, started_at, updated_at FROM %s`, j.table)
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY started_at`

	rows, err := j.db.QueryContext(ctx, j.bind(query), args...)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInternal, "查询事务日志失败")
	}
	defer rows.Close()

	var out []*State
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInternal, "查询事务日志失败")
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanState(s scanner) (*State, error) {
	var (
		st               State
		status, ops, msg string
		started, updated int64
	)
	if err := s.Scan(&st.ScopeID, &status, &ops, &msg, &started, &updated); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.WrapError(err, errors.ErrCodeInternal, "读取事务日志失败")
	}
	st.Status = Status(status)
	st.Error = msg
	st.StartedAt = time.Unix(0, started)
	st.UpdatedAt = time.Unix(0, updated)

	// 数值保持 json.Number，重放时 id 不会变成浮点数
	dec := json.NewDecoder(bytes.NewReader([]byte(ops)))
	dec.UseNumber()
	if err := dec.Decode(&st.Operations); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInternal, "解析事务日志失败")
	}
	return &st, nil
}

var _ IJournal = (*SQLJournal)(nil)
