package db

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaStatements are applied in order; every statement is idempotent.
// Foreign keys between exams, questions, options and answers carry no
// ON DELETE action: owned rows are removed by the services in dependency order.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sectors (
		id UUID PRIMARY KEY,
		name VARCHAR(64) NOT NULL UNIQUE,
		display_name VARCHAR(128) NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS subjects (
		id UUID PRIMARY KEY,
		label VARCHAR(128) NOT NULL,
		value VARCHAR(64) NOT NULL UNIQUE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS subject_sectors (
		subject_id UUID NOT NULL REFERENCES subjects(id) ON DELETE CASCADE,
		sector_id UUID NOT NULL REFERENCES sectors(id) ON DELETE CASCADE,
		PRIMARY KEY (subject_id, sector_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_subject_sectors_sector ON subject_sectors (sector_id)`,
	`CREATE TABLE IF NOT EXISTS exams (
		id UUID PRIMARY KEY,
		title VARCHAR(255) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		sector_id UUID NOT NULL REFERENCES sectors(id),
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		is_completed BOOLEAN NOT NULL DEFAULT FALSE,
		has_passed BOOLEAN NOT NULL DEFAULT FALSE,
		total_questions INTEGER NOT NULL DEFAULT 0,
		passing_score INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_exams_sector ON exams (sector_id)`,
	`CREATE TABLE IF NOT EXISTS questions (
		id UUID PRIMARY KEY,
		text TEXT NOT NULL,
		image_url VARCHAR(1024),
		exam_id UUID NOT NULL REFERENCES exams(id),
		subject_id UUID REFERENCES subjects(id) ON DELETE SET NULL,
		exam_part CHAR(1) NOT NULL DEFAULT 'A',
		parent_id UUID REFERENCES questions(id) ON DELETE SET NULL,
		display_text TEXT,
		description TEXT,
		order_number INTEGER NOT NULL,
		points INTEGER NOT NULL DEFAULT 1,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		is_complex BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_questions_exam_order ON questions (exam_id, exam_part, order_number)`,
	`CREATE INDEX IF NOT EXISTS idx_questions_subject ON questions (subject_id)`,
	`CREATE TABLE IF NOT EXISTS question_options (
		id UUID PRIMARY KEY,
		text TEXT NOT NULL,
		image_url VARCHAR(1024),
		question_id UUID NOT NULL REFERENCES questions(id),
		option_letter CHAR(1) NOT NULL,
		is_correct BOOLEAN NOT NULL DEFAULT FALSE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (question_id, option_letter)
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		firebase_uid VARCHAR(128) NOT NULL UNIQUE,
		email VARCHAR(255) NOT NULL,
		first_name VARCHAR(128) NOT NULL,
		last_name VARCHAR(128) NOT NULL DEFAULT '',
		avatar_url VARCHAR(1024),
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		municipality INTEGER,
		school INTEGER,
		sector_id UUID REFERENCES sectors(id) ON DELETE SET NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS user_answers (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES users(id),
		exam_id UUID NOT NULL REFERENCES exams(id),
		question_id UUID NOT NULL REFERENCES questions(id),
		selected_option_id UUID NOT NULL REFERENCES question_options(id),
		is_correct BOOLEAN NOT NULL DEFAULT FALSE,
		points_earned INTEGER NOT NULL DEFAULT 0,
		time_spent_seconds INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT uq_user_answers_selection UNIQUE (user_id, exam_id, question_id, selected_option_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_user_answers_exam ON user_answers (exam_id)`,
	`CREATE INDEX IF NOT EXISTS idx_user_answers_question ON user_answers (question_id)`,
	`CREATE INDEX IF NOT EXISTS idx_user_answers_option ON user_answers (selected_option_id)`,
}

// EnsureSchema creates missing tables and indexes in a single transaction.
func EnsureSchema(ctx context.Context, conn *sql.DB) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
