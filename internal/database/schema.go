package database

type migrationCreateTables struct{}

// NewMigrationCreateTables bootstraps the full schema.
func NewMigrationCreateTables() Migration {
	return &migrationCreateTables{}
}

func (*migrationCreateTables) Identifier() string {
	return "20250901000000_create_tables"
}

func (*migrationCreateTables) Up() string {
	return `
CREATE TABLE IF NOT EXISTS tbl_identity (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	email TEXT NOT NULL UNIQUE,
	password_hash TEXT,
	federation_subject TEXT UNIQUE,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tbl_tenant (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	identity_id UUID NOT NULL UNIQUE REFERENCES tbl_identity(id) ON DELETE CASCADE,
	display_name TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tbl_oauth_client (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	client_id TEXT NOT NULL UNIQUE,
	client_secret TEXT,
	client_name TEXT NOT NULL,
	redirect_uris TEXT[] NOT NULL,
	grant_types TEXT[] NOT NULL,
	response_types TEXT[] NOT NULL,
	scope TEXT NOT NULL,
	token_endpoint_auth_method TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tbl_auth_code (
	code TEXT PRIMARY KEY,
	client_id TEXT NOT NULL,
	identity_id UUID NOT NULL REFERENCES tbl_identity(id) ON DELETE CASCADE,
	redirect_uri TEXT NOT NULL,
	scope TEXT NOT NULL,
	code_challenge TEXT NOT NULL,
	code_challenge_method TEXT NOT NULL,
	used BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_auth_code_expires_at ON tbl_auth_code (expires_at);

CREATE TABLE IF NOT EXISTS tbl_access_token (
	jti UUID PRIMARY KEY,
	client_id TEXT,
	identity_id UUID NOT NULL,
	tenant_id UUID NOT NULL,
	scope TEXT NOT NULL,
	issued_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	revoked_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_access_token_identity ON tbl_access_token (identity_id);

CREATE TABLE IF NOT EXISTS tbl_secret (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	tenant_id UUID NOT NULL REFERENCES tbl_tenant(id) ON DELETE CASCADE,
	secret_name TEXT NOT NULL,
	ciphertext TEXT NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_secret_tenant_name_active
	ON tbl_secret (tenant_id, secret_name) WHERE is_active;
`
}
