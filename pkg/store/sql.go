package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/memkeep/memkeep/pkg/config"
)

// SQLStore implements Store on postgres, sqlite or mysql.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

const createAgentsTableSQL = `
CREATE TABLE IF NOT EXISTS agents (
    id VARCHAR(36) PRIMARY KEY,
    optional_tool_sets TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    recursive_summary TEXT NOT NULL,
    recursive_summary_updated_at TIMESTAMP NOT NULL,
    last_user_exit_at TIMESTAMP NULL
);
`

const createWorkingContextTableSQL = `
CREATE TABLE IF NOT EXISTS working_context (
    agent_id VARCHAR(36) PRIMARY KEY,
    agent_persona TEXT NOT NULL,
    user_persona TEXT NOT NULL,
    tasks TEXT NOT NULL,
    FOREIGN KEY (agent_id) REFERENCES agents(id)
);
`

// seqColumn is the dialect-specific autoincrement column used to keep a
// stable insertion order under equal timestamps.
func (s *SQLStore) seqColumn() string {
	switch s.dialect {
	case "postgres":
		return "seq BIGSERIAL PRIMARY KEY"
	case "mysql":
		return "seq BIGINT PRIMARY KEY AUTO_INCREMENT"
	default:
		return "seq INTEGER PRIMARY KEY AUTOINCREMENT"
	}
}

func (s *SQLStore) messageTableSQL(name string) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
    %[2]s,
    message_id VARCHAR(36) NOT NULL,
    agent_id VARCHAR(36) NOT NULL,
    kind VARCHAR(32) NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    content TEXT NOT NULL,
    FOREIGN KEY (agent_id) REFERENCES agents(id)
);
`, name, s.seqColumn())
}

func (s *SQLStore) messageIndexSQL(name string) string {
	return fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS idx_%[1]s_agent_ts ON %[1]s(agent_id, timestamp);`, name)
}

const createArchivalCategoriesTableSQL = `
CREATE TABLE IF NOT EXISTS archival_categories (
    agent_id VARCHAR(36) NOT NULL,
    category VARCHAR(255) NOT NULL,
    PRIMARY KEY (agent_id, category),
    FOREIGN KEY (agent_id) REFERENCES agents(id)
);
`

// NewSQLStore wraps an open connection and creates the schema.
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	switch dialect {
	case "postgres", "mysql", "sqlite":

	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &SQLStore{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// NewSQLStoreFromConfig opens the configured database and verifies the
// connection before creating the schema.
func NewSQLStoreFromConfig(cfg *config.DatabaseConfig) (*SQLStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration is required")
	}

	driverName := cfg.Driver
	if driverName == "sqlite" {
		driverName = "sqlite3"
	}

	db, err := sql.Open(driverName, cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", cfg.Driver, err)
	}

	return NewSQLStore(db, cfg.Driver)
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stmts := []string{
		createAgentsTableSQL,
		createWorkingContextTableSQL,
		s.messageTableSQL("fifo_queue"),
		s.messageIndexSQL("fifo_queue"),
		s.messageTableSQL("recall_storage"),
		s.messageIndexSQL("recall_storage"),
		s.messageTableSQL("chat_log"),
		s.messageIndexSQL("chat_log"),
		createArchivalCategoriesTableSQL,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return nil
}

// q rewrites ? placeholders to $1..$n for postgres.
func (s *SQLStore) q(query string) string {
	if s.dialect != "postgres" {
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

// ----------------------------------------------------------------------
// Agents

func (s *SQLStore) CreateAgent(ctx context.Context, agent AgentRecord, wc WorkingContextRecord) error {
	if agent.ID == "" {
		return fmt.Errorf("agent ID is required")
	}

	toolSets, err := json.Marshal(agent.OptionalToolSets)
	if err != nil {
		return fmt.Errorf("failed to marshal tool sets: %w", err)
	}
	tasks, err := json.Marshal(wc.Tasks)
	if err != nil {
		return fmt.Errorf("failed to marshal tasks: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, s.q(`
INSERT INTO agents (id, optional_tool_sets, created_at, recursive_summary, recursive_summary_updated_at, last_user_exit_at)
VALUES (?, ?, ?, ?, ?, ?)`),
		agent.ID, string(toolSets), agent.CreatedAt, agent.RecursiveSummary,
		agent.RecursiveSummaryUpdatedAt, nullTime(agent.LastUserExitAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert agent: %w", err)
	}

	_, err = tx.ExecContext(ctx, s.q(`
INSERT INTO working_context (agent_id, agent_persona, user_persona, tasks)
VALUES (?, ?, ?, ?)`),
		agent.ID, wc.AgentPersona, wc.UserPersona, string(tasks),
	)
	if err != nil {
		return fmt.Errorf("failed to insert working context: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (s *SQLStore) DeleteAgent(ctx context.Context, agentID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, table := range []string{"archival_categories", "chat_log", "recall_storage", "fifo_queue", "working_context"} {
		if _, err = tx.ExecContext(ctx, s.q(`DELETE FROM `+table+` WHERE agent_id = ?`), agentID); err != nil {
			return fmt.Errorf("failed to delete from %s: %w", table, err)
		}
	}

	res, err := tx.ExecContext(ctx, s.q(`DELETE FROM agents WHERE id = ?`), agentID)
	if err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = ErrAgentNotFound
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (s *SQLStore) GetAgent(ctx context.Context, agentID string) (*AgentRecord, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
SELECT id, optional_tool_sets, created_at, recursive_summary, recursive_summary_updated_at, last_user_exit_at
FROM agents WHERE id = ?`), agentID)

	rec, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return rec, nil
}

func (s *SQLStore) ListAgents(ctx context.Context) ([]AgentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, optional_tool_sets, created_at, recursive_summary, recursive_summary_updated_at, last_user_exit_at
FROM agents ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var agents []AgentRecord
	for rows.Next() {
		rec, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, *rec)
	}
	return agents, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*AgentRecord, error) {
	var rec AgentRecord
	var toolSets string
	var lastExit sql.NullTime

	if err := row.Scan(&rec.ID, &toolSets, &rec.CreatedAt, &rec.RecursiveSummary,
		&rec.RecursiveSummaryUpdatedAt, &lastExit); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(toolSets), &rec.OptionalToolSets); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tool sets: %w", err)
	}
	if lastExit.Valid {
		rec.LastUserExitAt = lastExit.Time
	}
	return &rec, nil
}

func (s *SQLStore) UpdateRecursiveSummary(ctx context.Context, agentID, summary string, updatedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, s.q(`
UPDATE agents SET recursive_summary = ?, recursive_summary_updated_at = ? WHERE id = ?`),
		summary, updatedAt, agentID)
	if err != nil {
		return fmt.Errorf("failed to update recursive summary: %w", err)
	}
	return requireAgentRow(res)
}

func (s *SQLStore) UpdateLastUserExit(ctx context.Context, agentID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE agents SET last_user_exit_at = ? WHERE id = ?`), at, agentID)
	if err != nil {
		return fmt.Errorf("failed to update last user exit: %w", err)
	}
	return requireAgentRow(res)
}

func requireAgentRow(res sql.Result) error {
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrAgentNotFound
	}
	return nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// ----------------------------------------------------------------------
// Working context

func (s *SQLStore) GetWorkingContext(ctx context.Context, agentID string) (*WorkingContextRecord, error) {
	var wc WorkingContextRecord
	var tasks string

	err := s.db.QueryRowContext(ctx, s.q(`
SELECT agent_persona, user_persona, tasks FROM working_context WHERE agent_id = ?`), agentID).
		Scan(&wc.AgentPersona, &wc.UserPersona, &tasks)
	if err == sql.ErrNoRows {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get working context: %w", err)
	}

	if err := json.Unmarshal([]byte(tasks), &wc.Tasks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tasks: %w", err)
	}
	return &wc, nil
}

func (s *SQLStore) SetPersonas(ctx context.Context, agentID, agentPersona, userPersona string) error {
	res, err := s.db.ExecContext(ctx, s.q(`
UPDATE working_context SET agent_persona = ?, user_persona = ? WHERE agent_id = ?`),
		agentPersona, userPersona, agentID)
	if err != nil {
		return fmt.Errorf("failed to set personas: %w", err)
	}
	return requireAgentRow(res)
}

func (s *SQLStore) SetTasks(ctx context.Context, agentID string, tasks []string) error {
	data, err := json.Marshal(tasks)
	if err != nil {
		return fmt.Errorf("failed to marshal tasks: %w", err)
	}

	res, err := s.db.ExecContext(ctx, s.q(`UPDATE working_context SET tasks = ? WHERE agent_id = ?`),
		string(data), agentID)
	if err != nil {
		return fmt.Errorf("failed to set tasks: %w", err)
	}
	return requireAgentRow(res)
}

// ----------------------------------------------------------------------
// FIFO queue

func (s *SQLStore) AppendFIFO(ctx context.Context, rec MessageRecord) error {
	return s.appendMessage(ctx, "fifo_queue", rec)
}

func (s *SQLStore) appendMessage(ctx context.Context, table string, rec MessageRecord) error {
	_, err := s.db.ExecContext(ctx, s.q(`
INSERT INTO `+table+` (message_id, agent_id, kind, timestamp, content)
VALUES (?, ?, ?, ?, ?)`),
		rec.ID, rec.AgentID, rec.Kind, rec.Timestamp, string(rec.Content))
	if err != nil {
		return fmt.Errorf("failed to insert into %s: %w", table, err)
	}
	return nil
}

func (s *SQLStore) FIFOMessages(ctx context.Context, agentID string) ([]MessageRecord, error) {
	return s.queryMessages(ctx, s.q(`
SELECT message_id, agent_id, kind, timestamp, content
FROM fifo_queue WHERE agent_id = ? ORDER BY timestamp, seq`), agentID)
}

func (s *SQLStore) DeleteFIFOMessage(ctx context.Context, agentID, messageID string) error {
	_, err := s.db.ExecContext(ctx,
		s.q(`DELETE FROM fifo_queue WHERE agent_id = ? AND message_id = ?`), agentID, messageID)
	if err != nil {
		return fmt.Errorf("failed to delete queue message: %w", err)
	}
	return nil
}

func (s *SQLStore) FIFOLen(ctx context.Context, agentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT COUNT(*) FROM fifo_queue WHERE agent_id = ?`), agentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count queue messages: %w", err)
	}
	return n, nil
}

func (s *SQLStore) queryMessages(ctx context.Context, query string, args ...any) ([]MessageRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var recs []MessageRecord
	for rows.Next() {
		var rec MessageRecord
		var content string
		if err := rows.Scan(&rec.ID, &rec.AgentID, &rec.Kind, &rec.Timestamp, &content); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		rec.Content = []byte(content)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// ----------------------------------------------------------------------
// Recall storage

func (s *SQLStore) AppendRecall(ctx context.Context, rec MessageRecord) error {
	return s.appendMessage(ctx, "recall_storage", rec)
}

func (s *SQLStore) SearchRecallText(ctx context.Context, agentID, query string) ([]MessageRecord, error) {
	pattern := "%" + strings.ToLower(query) + "%"
	return s.queryMessages(ctx, s.q(`
SELECT message_id, agent_id, kind, timestamp, content
FROM recall_storage
WHERE agent_id = ? AND kind IN ('user', 'assistant') AND LOWER(content) LIKE ?
ORDER BY timestamp DESC, seq DESC`), agentID, pattern)
}

func (s *SQLStore) SearchRecallRange(ctx context.Context, agentID string, start, end time.Time) ([]MessageRecord, error) {
	return s.queryMessages(ctx, s.q(`
SELECT message_id, agent_id, kind, timestamp, content
FROM recall_storage
WHERE agent_id = ? AND kind IN ('user', 'assistant') AND timestamp >= ? AND timestamp <= ?
ORDER BY timestamp DESC, seq DESC`), agentID, start, end)
}

func (s *SQLStore) RecallLen(ctx context.Context, agentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT COUNT(*) FROM recall_storage WHERE agent_id = ?`), agentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count recall messages: %w", err)
	}
	return n, nil
}

// ----------------------------------------------------------------------
// Chat log

func (s *SQLStore) AppendChatLog(ctx context.Context, rec ChatLogRecord) error {
	_, err := s.db.ExecContext(ctx, s.q(`
INSERT INTO chat_log (message_id, agent_id, kind, timestamp, content)
VALUES (?, ?, ?, ?, ?)`),
		rec.ID, rec.AgentID, rec.Kind, rec.Timestamp, rec.Content)
	if err != nil {
		return fmt.Errorf("failed to insert chat log entry: %w", err)
	}
	return nil
}

func (s *SQLStore) SearchChatLog(ctx context.Context, agentID, query string) ([]ChatLogRecord, error) {
	pattern := "%" + strings.ToLower(query) + "%"
	return s.queryChatLog(ctx, s.q(`
SELECT message_id, agent_id, kind, timestamp, content
FROM chat_log
WHERE agent_id = ? AND LOWER(content) LIKE ?
ORDER BY timestamp DESC, seq DESC`), agentID, pattern)
}

func (s *SQLStore) SearchChatLogRange(ctx context.Context, agentID string, start, end time.Time) ([]ChatLogRecord, error) {
	return s.queryChatLog(ctx, s.q(`
SELECT message_id, agent_id, kind, timestamp, content
FROM chat_log
WHERE agent_id = ? AND timestamp >= ? AND timestamp <= ?
ORDER BY timestamp DESC, seq DESC`), agentID, start, end)
}

func (s *SQLStore) queryChatLog(ctx context.Context, query string, args ...any) ([]ChatLogRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat log: %w", err)
	}
	defer rows.Close()

	var recs []ChatLogRecord
	for rows.Next() {
		var rec ChatLogRecord
		if err := rows.Scan(&rec.ID, &rec.AgentID, &rec.Kind, &rec.Timestamp, &rec.Content); err != nil {
			return nil, fmt.Errorf("failed to scan chat log entry: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// ----------------------------------------------------------------------
// Archival categories

func (s *SQLStore) AddArchivalCategory(ctx context.Context, agentID, category string) error {
	query := `INSERT INTO archival_categories (agent_id, category) VALUES (?, ?)`
	switch s.dialect {
	case "postgres":
		query += ` ON CONFLICT DO NOTHING`
	case "mysql":
		query = `INSERT IGNORE INTO archival_categories (agent_id, category) VALUES (?, ?)`
	default:
		query = `INSERT OR IGNORE INTO archival_categories (agent_id, category) VALUES (?, ?)`
	}

	if _, err := s.db.ExecContext(ctx, s.q(query), agentID, category); err != nil {
		return fmt.Errorf("failed to add archival category: %w", err)
	}
	return nil
}

func (s *SQLStore) ArchivalCategories(ctx context.Context, agentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT category FROM archival_categories WHERE agent_id = ? ORDER BY category`), agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list archival categories: %w", err)
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLStore)(nil)
