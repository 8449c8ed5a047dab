package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	xerrors "Rivalz-Swarm/internal/errors"
	"Rivalz-Swarm/pkg/logger"
)

// SQLTranscriptRepository 将会话记录写入 MySQL 的 conversation_messages 表。
type SQLTranscriptRepository struct {
	db *sql.DB
}

// NewSQLTranscriptRepository 创建连接池并执行内嵌的迁移。
func NewSQLTranscriptRepository(ctx context.Context, cfg Config) (*SQLTranscriptRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	repo, err := NewSQLTranscriptRepositoryWithDB(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// NewSQLTranscriptRepositoryWithDB 基于已有连接创建仓库。
func NewSQLTranscriptRepositoryWithDB(ctx context.Context, db *sql.DB) (*SQLTranscriptRepository, error) {
	if db == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "数据库连接不能为空")
	}
	m := &migrator{db: db, files: embeddedMigrations, now: time.Now}
	ran, err := m.run(ctx)
	if err != nil {
		return nil, err
	}
	if len(ran) > 0 {
		logger.L().Info("会话存储迁移完成", slog.Any("versions", ran))
	}
	return &SQLTranscriptRepository{db: db}, nil
}

// Append 在一个事务中写入一批消息。
func (s *SQLTranscriptRepository) Append(ctx context.Context, records []TranscriptRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启会话写入事务失败")
	}

	const stmt = `INSERT IGNORE INTO conversation_messages
        (session_id, seq, role, sender, knowledge_base_id, content, tool_name, tool_call_id, tool_calls, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for _, record := range records {
		calls, err := encodeToolCalls(record.ToolCalls)
		if err != nil {
			_ = tx.Rollback()
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化工具调用失败")
		}
		if _, err := tx.ExecContext(ctx, stmt,
			record.SessionID,
			record.Seq,
			record.Role,
			record.Sender,
			record.KnowledgeBaseID,
			record.Content,
			record.ToolName,
			record.ToolCallID,
			calls,
			record.CreatedAt,
		); err != nil {
			_ = tx.Rollback()
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入会话记录失败")
		}
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交会话记录失败")
	}
	return nil
}

// ListSession 查询会话的消息。
func (s *SQLTranscriptRepository) ListSession(ctx context.Context, sessionID string, limit int) ([]TranscriptRecord, error) {
	query := `SELECT session_id, seq, role, sender, knowledge_base_id, content, tool_name, tool_call_id, tool_calls, created_at
        FROM conversation_messages WHERE session_id = ? ORDER BY seq ASC`
	args := []any{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询会话记录失败")
	}
	defer rows.Close()

	var records []TranscriptRecord
	for rows.Next() {
		var (
			record  TranscriptRecord
			content sql.NullString
			calls   sql.NullString
		)
		if err := rows.Scan(
			&record.SessionID,
			&record.Seq,
			&record.Role,
			&record.Sender,
			&record.KnowledgeBaseID,
			&content,
			&record.ToolName,
			&record.ToolCallID,
			&calls,
			&record.CreatedAt,
		); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析会话记录失败")
		}
		record.Content = content.String
		if calls.Valid && strings.TrimSpace(calls.String) != "" {
			if err := json.Unmarshal([]byte(calls.String), &record.ToolCalls); err != nil {
				return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析工具调用失败")
			}
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历会话记录失败")
	}
	return records, nil
}

// NextSeq 实现 TranscriptRepository。
func (s *SQLTranscriptRepository) NextSeq(ctx context.Context, sessionID string) (int, error) {
	var next int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq) + 1, 0) FROM conversation_messages WHERE session_id = ?`, sessionID,
	).Scan(&next)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询会话序号失败")
	}
	return next, nil
}

// Close 关闭底层数据库连接。
func (s *SQLTranscriptRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ TranscriptRepository = (*SQLTranscriptRepository)(nil)
