package ledger

// Schema creates the ledger tables. Amounts are exact decimal strings and
// timestamps are UTC unix nanoseconds.
const Schema = `
CREATE TABLE IF NOT EXISTS transactions (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	account_id TEXT NOT NULL,
	run_id TEXT NOT NULL,
	order_id TEXT NOT NULL DEFAULT '',
	ts INTEGER NOT NULL,
	type TEXT NOT NULL,
	description TEXT NOT NULL,
	available_change TEXT NOT NULL,
	unavailable_change TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tx_account_run ON transactions(account_id, run_id, ts, seq);
CREATE INDEX IF NOT EXISTS idx_tx_order ON transactions(order_id);

CREATE TABLE IF NOT EXISTS balances (
	pos INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	account_id TEXT NOT NULL,
	run_id TEXT NOT NULL,
	ts INTEGER NOT NULL,
	available TEXT NOT NULL,
	unavailable TEXT NOT NULL,
	last_seq INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_balance_account_run ON balances(account_id, run_id, pos);

CREATE TABLE IF NOT EXISTS order_versions (
	pos INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL,
	version INTEGER NOT NULL,
	number INTEGER NOT NULL,
	agent_id TEXT NOT NULL,
	run_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	pair TEXT NOT NULL,
	status TEXT NOT NULL,
	body TEXT NOT NULL,
	UNIQUE(id, version)
);

CREATE INDEX IF NOT EXISTS idx_order_run ON order_versions(run_id, agent_id, number);

CREATE TRIGGER IF NOT EXISTS transactions_no_update BEFORE UPDATE ON transactions
BEGIN SELECT RAISE(ABORT, 'transactions are append-only'); END;
CREATE TRIGGER IF NOT EXISTS transactions_no_delete BEFORE DELETE ON transactions
BEGIN SELECT RAISE(ABORT, 'transactions are append-only'); END;
`
