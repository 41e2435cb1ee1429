package runstore

const schema = `
CREATE TABLE IF NOT EXISTS history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    definition_dir TEXT NOT NULL,
    settings_file TEXT NOT NULL,
    module_type TEXT NOT NULL,
    module_path TEXT NOT NULL,
    main_class TEXT,
    module_mod_time INTEGER NOT NULL DEFAULT 0,
    args TEXT NOT NULL,
    run_no INTEGER NOT NULL DEFAULT 0,
    started_at INTEGER NOT NULL DEFAULT 0,
    elapsed_ns INTEGER NOT NULL DEFAULT 0,
    exit_code INTEGER NOT NULL DEFAULT -1,
    user_canceled BOOLEAN DEFAULT FALSE,
    completed BOOLEAN DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_history_definition ON history(definition_dir);

CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    state TEXT NOT NULL,
    outcome TEXT NOT NULL,
    records INTEGER NOT NULL,
    executed INTEGER NOT NULL,
    error_message TEXT,
    started_at INTEGER NOT NULL,
    finished_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_finished ON sessions(finished_at);
`
