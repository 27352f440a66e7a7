package store

import (
	"context"
	"database/sql"
	"embed"
	"flag"
	"fmt"
	"os"
	"strings"

	"fathom-crm/core/utils"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS organizations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		current_plan_id INTEGER,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		org_id INTEGER NOT NULL,
		username TEXT UNIQUE NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		full_name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'staff',
		password_hash TEXT NOT NULL,
		salt TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		FOREIGN KEY(org_id) REFERENCES organizations(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		username TEXT NOT NULL,
		org_id INTEGER NOT NULL,
		role TEXT NOT NULL,
		csrf_token TEXT NOT NULL,
		ip TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_seen_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		expires_at TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS feature_knobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		knob_key TEXT UNIQUE NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		is_system INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE TABLE IF NOT EXISTS role_permissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		org_id INTEGER,
		role TEXT NOT NULL,
		knob_key TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 0,
		UNIQUE(org_id, role, knob_key)
	);`,
	`CREATE TABLE IF NOT EXISTS user_permissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		knob_key TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		granted_by INTEGER,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(user_id, knob_key),
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS plans (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		price_cents INTEGER NOT NULL DEFAULT 0,
		billing_period TEXT NOT NULL DEFAULT 'monthly',
		is_active INTEGER NOT NULL DEFAULT 1
	);`,
	`CREATE TABLE IF NOT EXISTS plan_features (
		plan_id INTEGER NOT NULL,
		knob_key TEXT NOT NULL,
		PRIMARY KEY(plan_id, knob_key),
		FOREIGN KEY(plan_id) REFERENCES plans(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		org_id INTEGER NOT NULL,
		plan_id INTEGER NOT NULL,
		status TEXT NOT NULL,
		started_at TIMESTAMP,
		ends_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		FOREIGN KEY(org_id) REFERENCES organizations(id) ON DELETE CASCADE,
		FOREIGN KEY(plan_id) REFERENCES plans(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS leads (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		org_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		company TEXT NOT NULL DEFAULT '',
		stage TEXT NOT NULL DEFAULT 'new',
		status TEXT NOT NULL DEFAULT 'open',
		source TEXT NOT NULL DEFAULT '',
		value REAL NOT NULL DEFAULT 0,
		assigned_to INTEGER,
		owner_user_id INTEGER,
		custom_json TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		FOREIGN KEY(org_id) REFERENCES organizations(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS lead_notes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		lead_id INTEGER NOT NULL,
		author_id INTEGER NOT NULL,
		body TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY(lead_id) REFERENCES leads(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS automation_workflows (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		org_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		scope TEXT NOT NULL DEFAULT 'organization',
		created_by INTEGER NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		is_shared INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE(org_id, name),
		FOREIGN KEY(org_id) REFERENCES organizations(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS automation_triggers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		workflow_id INTEGER NOT NULL,
		trigger_type TEXT NOT NULL,
		condition_json TEXT NOT NULL DEFAULT '{}',
		FOREIGN KEY(workflow_id) REFERENCES automation_workflows(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS automation_actions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		workflow_id INTEGER NOT NULL,
		action_type TEXT NOT NULL,
		config_json TEXT NOT NULL DEFAULT '{}',
		execution_order INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY(workflow_id) REFERENCES automation_workflows(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS automation_execution_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL DEFAULT '',
		workflow_id INTEGER NOT NULL,
		org_id INTEGER NOT NULL,
		subject_id INTEGER NOT NULL DEFAULT 0,
		trigger_type TEXT NOT NULL,
		status TEXT NOT NULL,
		steps_json TEXT NOT NULL DEFAULT '[]',
		created_at TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS activity_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		org_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		action_type TEXT NOT NULL,
		entity_id INTEGER,
		description TEXT NOT NULL DEFAULT '',
		old_value_json TEXT,
		new_value_json TEXT,
		ip TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS org_messaging_settings (
		org_id INTEGER PRIMARY KEY,
		api_key TEXT NOT NULL DEFAULT '',
		endpoint TEXT NOT NULL DEFAULT '',
		flow_id TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL,
		FOREIGN KEY(org_id) REFERENCES organizations(id) ON DELETE CASCADE
	);`,
	`CREATE INDEX IF NOT EXISTS idx_users_org ON users(org_id);`,
	`CREATE INDEX IF NOT EXISTS idx_role_permissions_role ON role_permissions(role, knob_key);`,
	`CREATE INDEX IF NOT EXISTS idx_user_permissions_user ON user_permissions(user_id);`,
	`CREATE INDEX IF NOT EXISTS idx_subscriptions_org ON subscriptions(org_id, created_at);`,
	`CREATE INDEX IF NOT EXISTS idx_leads_org ON leads(org_id);`,
	`CREATE INDEX IF NOT EXISTS idx_leads_assigned ON leads(assigned_to);`,
	`CREATE INDEX IF NOT EXISTS idx_lead_notes_lead ON lead_notes(lead_id);`,
	`CREATE INDEX IF NOT EXISTS idx_workflows_org ON automation_workflows(org_id, is_active);`,
	`CREATE INDEX IF NOT EXISTS idx_triggers_workflow ON automation_triggers(workflow_id);`,
	`CREATE INDEX IF NOT EXISTS idx_triggers_type ON automation_triggers(trigger_type);`,
	`CREATE INDEX IF NOT EXISTS idx_actions_workflow ON automation_actions(workflow_id, execution_order);`,
	`CREATE INDEX IF NOT EXISTS idx_execution_logs_workflow ON automation_execution_logs(workflow_id, created_at);`,
	`CREATE INDEX IF NOT EXISTS idx_activity_log_org ON activity_log(org_id, created_at);`,
}

func ApplyMigrations(ctx context.Context, db *sql.DB, logger *utils.Logger) error {
	isPG, err := isPostgresDB(ctx, db)
	if err != nil {
		return err
	}
	if !isPG {
		if !isTestRuntime() {
			return fmt.Errorf("only postgres is supported outside go test runtime")
		}
		return applySQLiteTestMigrations(ctx, db, logger)
	}
	return applyGooseMigrations(ctx, db, logger)
}

func applyGooseMigrations(ctx context.Context, db *sql.DB, logger *utils.Logger) error {
	goose.SetBaseFS(postgresMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "migrations/postgres"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	logger.Printf("postgres migrations applied")
	return nil
}

func applySQLiteTestMigrations(ctx context.Context, db *sql.DB, logger *utils.Logger) error {
	logger.Printf("applying sqlite test migrations")
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite migration #%d failed: %w", i+1, err)
		}
	}
	return nil
}

func isTestRuntime() bool {
	if flag.Lookup("test.v") != nil {
		return true
	}
	return strings.HasSuffix(os.Args[0], ".test")
}
