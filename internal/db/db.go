package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Open connects to the SQLite database and runs schema migrations.
func Open(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_foreign_keys=1", path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(0)

	if err := migrate(conn); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return conn, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS documents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			original_name TEXT NOT NULL,
			stored_path TEXT NOT NULL UNIQUE,
			media_type TEXT NOT NULL,
			char_count INTEGER NOT NULL DEFAULT 0,
			uploaded_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL CHECK(kind IN ('test','flashcards')),
			title TEXT NOT NULL,
			status TEXT NOT NULL CHECK(status IN ('processing','completed','error')),
			progress INTEGER NOT NULL DEFAULT 0,
			partial_results TEXT,
			error TEXT,
			result_id TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS tests (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			difficulty TEXT NOT NULL,
			num_questions INTEGER NOT NULL,
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS questions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			test_id TEXT NOT NULL,
			question_id TEXT NOT NULL,
			type TEXT NOT NULL CHECK(type IN ('multiple_choice','short_answer')),
			question TEXT NOT NULL,
			options TEXT,
			correct_answer TEXT NOT NULL,
			explanation TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			chunk_index INTEGER NOT NULL DEFAULT 0,
			position INTEGER NOT NULL,
			UNIQUE(test_id, question_id),
			FOREIGN KEY(test_id) REFERENCES tests(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS test_attempts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			test_id TEXT NOT NULL,
			score REAL NOT NULL,
			correct INTEGER NOT NULL,
			total INTEGER NOT NULL,
			submitted_at DATETIME NOT NULL,
			FOREIGN KEY(test_id) REFERENCES tests(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS flashcard_sets (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			total_cards INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS flashcards (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			set_id TEXT NOT NULL,
			card_id TEXT NOT NULL,
			front TEXT NOT NULL,
			back TEXT NOT NULL,
			position INTEGER NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			interval_days INTEGER NOT NULL DEFAULT 0,
			ease_factor REAL NOT NULL DEFAULT 2.5,
			review_count INTEGER NOT NULL DEFAULT 0,
			next_review DATETIME,
			last_review DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			UNIQUE(set_id, position),
			FOREIGN KEY(set_id) REFERENCES flashcard_sets(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS review_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			flashcard_id INTEGER NOT NULL,
			correct INTEGER NOT NULL,
			interval_days INTEGER NOT NULL,
			ease_factor REAL NOT NULL,
			reviewed_at DATETIME NOT NULL,
			FOREIGN KEY(flashcard_id) REFERENCES flashcards(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);`,
		`CREATE INDEX IF NOT EXISTS idx_questions_test ON questions(test_id, position);`,
		`CREATE INDEX IF NOT EXISTS idx_flashcards_set ON flashcards(set_id, position);`,
		`CREATE INDEX IF NOT EXISTS idx_flashcards_due ON flashcards(next_review);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("execute %q: %w", stmt, err)
		}
	}
	return nil
}
