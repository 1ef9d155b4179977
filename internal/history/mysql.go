package history

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	xerrors "NamePilot/internal/errors"
)

// SQLRepository archives records in MySQL.
type SQLRepository struct {
	db *sql.DB
}

// NewSQLRepository opens the connection pool and ensures the schema exists.
func NewSQLRepository(dsn string) (*SQLRepository, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "mysql dsn is required")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "open mysql")
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "reach mysql")
	}

	repo := &SQLRepository{db: db}
	if err := repo.initSchema(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (s *SQLRepository) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS operations (
        id BIGINT AUTO_INCREMENT PRIMARY KEY,
        user_id VARCHAR(128) NOT NULL,
        conversation_id VARCHAR(128) NOT NULL,
        flow_type VARCHAR(32) NOT NULL,
        name VARCHAR(255) DEFAULT '',
        status VARCHAR(32) NOT NULL,
        tx_hash VARCHAR(66) DEFAULT '',
        amount_wei VARCHAR(80) DEFAULT '',
        completed_at BIGINT NOT NULL,
        INDEX idx_user_completed (user_id, completed_at)
)`

	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "create operations table")
	}
	return nil
}

func (s *SQLRepository) Save(ctx context.Context, record Record) error {
	const stmt = `INSERT INTO operations
        (user_id, conversation_id, flow_type, name, status, tx_hash, amount_wei, completed_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, stmt,
		record.UserID,
		record.ConversationID,
		record.FlowType,
		record.Name,
		record.Status,
		record.TxHash,
		record.AmountWei,
		record.CompletedAt,
	); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "archive operation")
	}
	return nil
}

func (s *SQLRepository) ListRecent(ctx context.Context, userID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `SELECT user_id, conversation_id, flow_type, name, status, tx_hash, amount_wei, completed_at
        FROM operations WHERE user_id = ? ORDER BY id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "query operations")
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var record Record
		if err := rows.Scan(&record.UserID, &record.ConversationID, &record.FlowType, &record.Name,
			&record.Status, &record.TxHash, &record.AmountWei, &record.CompletedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "scan operation row")
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "iterate operation rows")
	}
	return records, nil
}

func (s *SQLRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ Repository = (*SQLRepository)(nil)
