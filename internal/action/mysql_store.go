package action

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	xerrors "ERP-Agents/internal/errors"
)

// MySQLStore 将行动台账持久化到 MySQL，状态迁移通过条件 UPDATE 保证原子性。
type MySQLStore struct {
	db *sql.DB
}

// MySQLOptions 控制连接池行为。
type MySQLOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewMySQLStore 创建连接池并初始化数据表。
func NewMySQLStore(dsn string, opts MySQLOptions) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "mysql dsn is required")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "open mysql connection")
	}

	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 10
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = 5
	}
	if opts.ConnMaxLifetime <= 0 {
		opts.ConnMaxLifetime = 5 * time.Minute
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "ping mysql")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS agent_actions (
        id VARCHAR(36) PRIMARY KEY,
        agent_domain VARCHAR(32) NOT NULL,
        action_type VARCHAR(64) NOT NULL,
        input_data JSON,
        output_data JSON,
        confidence_score DOUBLE NOT NULL DEFAULT 0,
        reasoning TEXT,
        status VARCHAR(16) NOT NULL,
        route_key VARCHAR(64) DEFAULT '',
        approved_by VARCHAR(128) DEFAULT '',
        approved_at BIGINT NOT NULL DEFAULT 0,
        executed_at BIGINT NOT NULL DEFAULT 0,
        error_message TEXT,
        error_code VARCHAR(64) DEFAULT '',
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_domain_status (agent_domain, status),
        INDEX idx_created_at (created_at)
)`

	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "init agent_actions table")
	}
	return nil
}

// Create 写入新的行动记录。
func (s *MySQLStore) Create(ctx context.Context, a *Action) error {
	if a == nil || a.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "action id is required")
	}
	if !IsValidDomain(a.Domain) {
		return xerrors.New(xerrors.CodeInvalidArgument, "unknown agent domain: "+string(a.Domain))
	}

	input, err := marshalData(a.InputData)
	if err != nil {
		return err
	}
	output, err := marshalData(a.OutputData)
	if err != nil {
		return err
	}

	now := time.Now().Unix()
	const stmt = `INSERT INTO agent_actions
        (id, agent_domain, action_type, input_data, output_data, confidence_score, reasoning,
         status, route_key, approved_by, approved_at, executed_at, error_message, error_code, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '', 0, 0, '', '', ?, ?)`

	if _, err := s.db.ExecContext(ctx, stmt,
		a.ID,
		string(a.Domain),
		a.ActionType,
		input,
		output,
		a.ConfidenceScore,
		a.Reasoning,
		string(StatusPending),
		a.RouteKey,
		now,
		now,
	); err != nil {
		if strings.Contains(err.Error(), "Duplicate entry") {
			return ErrActionConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "insert action")
	}

	a.Status = StatusPending
	a.CreatedAt = now
	a.UpdatedAt = now
	return nil
}

// Get 按 ID 读取行动。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Action, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` FROM agent_actions WHERE id = ?`, id)
	return scanAction(row)
}

// Approve 执行 pending -> approved 迁移。
func (s *MySQLStore) Approve(ctx context.Context, id, operator string) (*Action, error) {
	const stmt = `UPDATE agent_actions
        SET status = ?, approved_by = ?, approved_at = ?, updated_at = ?
        WHERE id = ? AND status = ?`
	now := time.Now().Unix()
	return s.transition(ctx, id, stmt, string(StatusApproved), operator, now, now, id, string(StatusPending))
}

// Reject 执行 pending -> rejected 迁移。
func (s *MySQLStore) Reject(ctx context.Context, id, operator, reason string) (*Action, error) {
	const stmt = `UPDATE agent_actions
        SET status = ?, approved_by = ?, approved_at = ?, error_message = ?, updated_at = ?
        WHERE id = ? AND status = ?`
	now := time.Now().Unix()
	return s.transition(ctx, id, stmt, string(StatusRejected), operator, now, reason, now, id, string(StatusPending))
}

// MarkExecuted 执行 approved -> executed 迁移。
func (s *MySQLStore) MarkExecuted(ctx context.Context, id string) (*Action, error) {
	const stmt = `UPDATE agent_actions
        SET status = ?, executed_at = ?, updated_at = ?
        WHERE id = ? AND status = ?`
	now := time.Now().Unix()
	return s.transition(ctx, id, stmt, string(StatusExecuted), now, now, id, string(StatusApproved))
}

// MarkFailed 将 pending 或 approved 的行动迁移到 failed。
func (s *MySQLStore) MarkFailed(ctx context.Context, id, errCode, reason string) (*Action, error) {
	const stmt = `UPDATE agent_actions
        SET status = ?, error_code = ?, error_message = ?, updated_at = ?
        WHERE id = ? AND status IN (?, ?)`
	now := time.Now().Unix()
	return s.transition(ctx, id, stmt, string(StatusFailed), errCode, reason, now, id, string(StatusPending), string(StatusApproved))
}

// transition 执行条件更新；若没有命中任何行，则读取当前记录并按状态分类冲突。
func (s *MySQLStore) transition(ctx context.Context, id, stmt string, args ...any) (*Action, error) {
	result, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "update action status")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "read affected rows")
	}
	current, getErr := s.Get(ctx, id)
	if affected > 0 {
		return current, getErr
	}
	if getErr != nil {
		return nil, getErr
	}
	if current.Status.Terminal() {
		return current, ErrActionTerminal
	}
	return current, ErrActionConflict
}

// List 按过滤条件返回行动。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Action, error) {
	opts.applyDefaults()
	where, args := buildWhere(opts)
	order := "DESC"
	if opts.Order == SortByCreatedAsc {
		order = "ASC"
	}
	query := selectColumns + ` FROM agent_actions` + where +
		fmt.Sprintf(` ORDER BY created_at %s, id %s LIMIT ? OFFSET ?`, order, order)
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "query actions")
	}
	defer rows.Close()

	var actions []*Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "iterate actions")
	}
	if actions == nil {
		actions = []*Action{}
	}
	return actions, nil
}

// Stats 返回满足过滤条件的状态分布。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (Stats, error) {
	where, args := buildWhere(opts)
	query := `SELECT status, COUNT(*) FROM agent_actions` + where + ` GROUP BY status`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "query action stats")
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "scan action stats")
		}
		stats.observe(Status(status), count)
	}
	if err := rows.Err(); err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "iterate action stats")
	}
	return stats, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const selectColumns = `SELECT id, agent_domain, action_type, input_data, output_data, confidence_score, reasoning,
        status, route_key, approved_by, approved_at, executed_at, error_message, error_code, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAction(row rowScanner) (*Action, error) {
	var a Action
	var domain, status string
	var input, output sql.NullString
	if err := row.Scan(
		&a.ID,
		&domain,
		&a.ActionType,
		&input,
		&output,
		&a.ConfidenceScore,
		&a.Reasoning,
		&status,
		&a.RouteKey,
		&a.ApprovedBy,
		&a.ApprovedAt,
		&a.ExecutedAt,
		&a.ErrorMessage,
		&a.ErrorCode,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrActionNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "scan action")
	}
	a.Domain = Domain(domain)
	a.Status = Status(status)

	var err error
	if a.InputData, err = unmarshalData(input); err != nil {
		return nil, err
	}
	if a.OutputData, err = unmarshalData(output); err != nil {
		return nil, err
	}
	return &a, nil
}

func buildWhere(opts ListOptions) (string, []any) {
	var clauses []string
	var args []any
	// 归一化后非 nil 但为空的过滤器表示请求的值全部无效，应当匹配不到任何行。
	if opts.Domains != nil {
		if len(opts.Domains) == 0 {
			clauses = append(clauses, `1 = 0`)
		} else {
			clauses = append(clauses, `agent_domain IN (`+placeholders(len(opts.Domains))+`)`)
			for _, domain := range opts.Domains {
				args = append(args, string(domain))
			}
		}
	}
	if opts.Statuses != nil {
		if len(opts.Statuses) == 0 {
			clauses = append(clauses, `1 = 0`)
		} else {
			clauses = append(clauses, `status IN (`+placeholders(len(opts.Statuses))+`)`)
			for _, status := range opts.Statuses {
				args = append(args, string(status))
			}
		}
	}
	if len(opts.Types) > 0 {
		clauses = append(clauses, `action_type IN (`+placeholders(len(opts.Types))+`)`)
		for _, actionType := range opts.Types {
			args = append(args, actionType)
		}
	}
	if opts.CreatedGTE > 0 {
		clauses = append(clauses, `created_at >= ?`)
		args = append(args, opts.CreatedGTE)
	}
	if opts.CreatedLTE > 0 {
		clauses = append(clauses, `created_at <= ?`)
		args = append(args, opts.CreatedLTE)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return ` WHERE ` + strings.Join(clauses, ` AND `), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func marshalData(data map[string]any) (any, error) {
	if data == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode action data")
	}
	return string(encoded), nil
}

func unmarshalData(raw sql.NullString) (map[string]any, error) {
	if !raw.Valid || raw.String == "" || raw.String == "null" {
		return nil, nil
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(raw.String), &data); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "decode action data")
	}
	return data, nil
}
