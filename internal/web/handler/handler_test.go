package handler

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lodgic/authd/internal/account"
	"github.com/lodgic/authd/internal/config"
	apperrors "github.com/lodgic/authd/internal/errors"
	"github.com/lodgic/authd/internal/federation"
	"github.com/lodgic/authd/internal/oauth"
	"github.com/lodgic/authd/internal/token"
	"github.com/lodgic/authd/internal/vault"
)

// fakeClientStore backs ClientDirectory and ClientRegistrar with a map.
type fakeClientStore struct {
	mu      sync.Mutex
	clients map[string]oauth.Client
}

func newFakeClientStore() *fakeClientStore {
	return &fakeClientStore{clients: make(map[string]oauth.Client)}
}

func (f *fakeClientStore) GetByClientID(ctx context.Context, clientID string) (oauth.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	client, ok := f.clients[clientID]
	if !ok {
		return oauth.Client{}, oauth.ErrClientNotFound
	}
	return client, nil
}

func (f *fakeClientStore) Register(ctx context.Context, req oauth.RegistrationRequest) (oauth.Client, error) {
	if req.ClientName == "" {
		return oauth.Client{}, apperrors.InvalidClientMetadataError("client_name is required", nil)
	}
	authMethod := req.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = oauth.AuthMethodNone
	}

	client := oauth.Client{
		ClientID:                uuid.NewString(),
		ClientName:              req.ClientName,
		RedirectURIs:            req.RedirectURIs,
		GrantTypes:              []string{"authorization_code"},
		ResponseTypes:           []string{"code"},
		Scope:                   "openid profile email",
		TokenEndpointAuthMethod: authMethod,
	}
	if authMethod != oauth.AuthMethodNone {
		client.ClientSecret = uuid.NewString()
	}

	f.mu.Lock()
	f.clients[client.ClientID] = client
	f.mu.Unlock()
	return client, nil
}

func (f *fakeClientStore) Authenticate(ctx context.Context, clientID, clientSecret string) (oauth.Client, error) {
	client, err := f.GetByClientID(ctx, clientID)
	if err != nil {
		return oauth.Client{}, apperrors.InvalidClientError("client authentication failed", nil)
	}
	if client.IsPublic() {
		if clientSecret != "" {
			return oauth.Client{}, apperrors.InvalidClientError("client authentication failed", nil)
		}
		return client, nil
	}
	if clientSecret != client.ClientSecret {
		return oauth.Client{}, apperrors.InvalidClientError("client authentication failed", nil)
	}
	return client, nil
}

// fakeCodeStore mirrors the production redeem-once semantics: the same
// ordered checks, with the used flag flipped under a lock the way the
// conditional UPDATE does it in Postgres.
type fakeCodeStore struct {
	mu    sync.Mutex
	codes map[string]*oauth.AuthorizationCode
}

func newFakeCodeStore() *fakeCodeStore {
	return &fakeCodeStore{codes: make(map[string]*oauth.AuthorizationCode)}
}

func (f *fakeCodeStore) Issue(ctx context.Context, clientID string, identityID uuid.UUID, redirectURI, scope, codeChallenge, codeChallengeMethod string) (string, error) {
	code := uuid.NewString() + uuid.NewString()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes[code] = &oauth.AuthorizationCode{
		Code:                code,
		ClientID:            clientID,
		IdentityID:          identityID,
		RedirectURI:         redirectURI,
		Scope:               scope,
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: codeChallengeMethod,
		ExpiresAt:           time.Now().Add(10 * time.Minute),
	}
	return code, nil
}

func (f *fakeCodeStore) Redeem(ctx context.Context, code, clientID, redirectURI, codeVerifier string) (oauth.Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	invalid := apperrors.InvalidGrantError("authorization code is invalid", nil)

	ac, ok := f.codes[code]
	if !ok || ac.Used || time.Now().After(ac.ExpiresAt) {
		return oauth.Grant{}, invalid
	}
	if ac.ClientID != clientID || ac.RedirectURI != redirectURI {
		return oauth.Grant{}, invalid
	}
	if err := oauth.VerifyCodeChallenge(codeVerifier, ac.CodeChallenge, ac.CodeChallengeMethod); err != nil {
		return oauth.Grant{}, invalid
	}

	ac.Used = true
	return oauth.Grant{IdentityID: ac.IdentityID, Scope: ac.Scope}, nil
}

// fakeAccounts keeps identities in memory with plaintext passwords.
type fakeAccounts struct {
	mu         sync.Mutex
	identities map[string]account.Identity // by email
	passwords  map[string]string
	tenants    map[uuid.UUID]account.Tenant // by identity ID
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{
		identities: make(map[string]account.Identity),
		passwords:  make(map[string]string),
		tenants:    make(map[uuid.UUID]account.Tenant),
	}
}

func (f *fakeAccounts) Register(ctx context.Context, email, password string) (account.Identity, account.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.identities[email]; exists {
		return account.Identity{}, account.Tenant{}, account.ErrEmailTaken
	}

	identity := account.Identity{ID: uuid.New(), Email: email, IsActive: true}
	tenant := account.Tenant{ID: uuid.New(), IdentityID: identity.ID, DisplayName: email}
	f.identities[email] = identity
	f.passwords[email] = password
	f.tenants[identity.ID] = tenant
	return identity, tenant, nil
}

func (f *fakeAccounts) Authenticate(ctx context.Context, email, password string) (account.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	identity, ok := f.identities[email]
	if !ok || f.passwords[email] != password {
		return account.Identity{}, account.ErrInvalidCredentials
	}
	return identity, nil
}

func (f *fakeAccounts) GetIdentityByID(ctx context.Context, id uuid.UUID) (account.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, identity := range f.identities {
		if identity.ID == id {
			return identity, nil
		}
	}
	return account.Identity{}, account.ErrIdentityNotFound
}

func (f *fakeAccounts) GetTenantByIdentityID(ctx context.Context, identityID uuid.UUID) (account.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	tenant, ok := f.tenants[identityID]
	if !ok {
		return account.Tenant{}, account.ErrTenantNotFound
	}
	return tenant, nil
}

// fakeVault stores plaintext per tenant.
type fakeVault struct {
	mu      sync.Mutex
	secrets map[uuid.UUID]map[string]string
}

func newFakeVault() *fakeVault {
	return &fakeVault{secrets: make(map[uuid.UUID]map[string]string)}
}

func (f *fakeVault) Put(ctx context.Context, tenantID uuid.UUID, name, plaintext string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.secrets[tenantID] == nil {
		f.secrets[tenantID] = make(map[string]string)
	}
	f.secrets[tenantID][name] = plaintext
	return nil
}

func (f *fakeVault) Get(ctx context.Context, tenantID uuid.UUID, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	value, ok := f.secrets[tenantID][name]
	if !ok {
		return "", vault.ErrSecretNotFound
	}
	return value, nil
}

func (f *fakeVault) Exists(ctx context.Context, tenantID uuid.UUID, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.secrets[tenantID][name]
	return ok, nil
}

func (f *fakeVault) List(ctx context.Context, tenantID uuid.UUID) ([]vault.SecretInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	infos := make([]vault.SecretInfo, 0, len(f.secrets[tenantID]))
	for name := range f.secrets[tenantID] {
		infos = append(infos, vault.SecretInfo{SecretName: name})
	}
	return infos, nil
}

func (f *fakeVault) Revoke(ctx context.Context, tenantID uuid.UUID, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.secrets[tenantID][name]; !ok {
		return false, nil
	}
	delete(f.secrets[tenantID], name)
	return true, nil
}

type testServer struct {
	handler  *Handler
	mux      *http.ServeMux
	clients  *fakeClientStore
	codes    *fakeCodeStore
	accounts *fakeAccounts
	vault    *fakeVault
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := &config.Config{BaseURL: "https://auth.test.example"}
	cfg.Server.Environment = config.EnvDevelopment
	cfg.OAuth.SigningKeyID = "test-key-1"
	cfg.OAuth.TokenTTL = time.Hour

	logger := slog.New(slog.DiscardHandler)

	tokens, err := token.NewService(cfg, logger)
	if err != nil {
		t.Fatalf("failed to build token service: %v", err)
	}

	clients := newFakeClientStore()
	codes := newFakeCodeStore()
	accounts := newFakeAccounts()
	vaultStore := newFakeVault()

	h := &Handler{
		Config:     cfg,
		Logger:     logger,
		Clients:    clients,
		Registrar:  clients,
		Codes:      codes,
		Accounts:   accounts,
		Tokens:     tokens,
		Vault:      vaultStore,
		Dispatcher: federation.NewDispatcher(tokens, nil, nil, logger),
	}

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	return &testServer{
		handler:  h,
		mux:      mux,
		clients:  clients,
		codes:    codes,
		accounts: accounts,
		vault:    vaultStore,
	}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) registerClient(t *testing.T, body string) map[string]any {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/oauth/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := ts.do(req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("client registration: got %d: %s", rec.Code, rec.Body)
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode registration response: %v", err)
	}
	return resp
}

func s256(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

func (ts *testServer) obtainCode(t *testing.T, clientID, redirectURI, challenge, state string) string {
	t.Helper()

	form := url.Values{
		"client_id":             {clientID},
		"redirect_uri":          {redirectURI},
		"response_type":         {"code"},
		"scope":                 {"openid profile email"},
		"state":                 {state},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
		"email":                 {"owner@test.example"},
		"password":              {"hunter2-hunter2"},
		"action":                {"approve"},
	}
	req := httptest.NewRequest(http.MethodPost, "/oauth/authorize", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := ts.do(req)
	if rec.Code != http.StatusFound {
		t.Fatalf("authorize POST: got %d: %s", rec.Code, rec.Body)
	}

	location, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("bad redirect location: %v", err)
	}
	if got := location.Query().Get("state"); got != state {
		t.Fatalf("state = %q, want %q", got, state)
	}
	code := location.Query().Get("code")
	if code == "" {
		t.Fatalf("no code in redirect: %s", rec.Header().Get("Location"))
	}
	return code
}

func (ts *testServer) exchangeCode(t *testing.T, clientID, redirectURI, code, verifier string) *httptest.ResponseRecorder {
	t.Helper()

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"client_id":     {clientID},
		"code_verifier": {verifier},
	}
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return ts.do(req)
}

func TestAuthorizationCodeFlow(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	// The resource owner exists with one configured secret.
	identity, tenant, err := ts.accounts.Register(ctx, "owner@test.example", "hunter2-hunter2")
	if err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}
	if err := ts.vault.Put(ctx, tenant.ID, "upstream_api_key", "sk_live_1"); err != nil {
		t.Fatalf("failed to seed vault: %v", err)
	}

	redirectURI := "http://127.0.0.1:3000"
	reg := ts.registerClient(t, `{"client_name":"cli","redirect_uris":["`+redirectURI+`"]}`)
	clientID, _ := reg["client_id"].(string)
	if clientID == "" {
		t.Fatal("registration returned no client_id")
	}

	// The authorization endpoint renders the credential form.
	verifier := strings.Repeat("v", 50)
	authURL := "/oauth/authorize?" + url.Values{
		"client_id":             {clientID},
		"redirect_uri":          {redirectURI},
		"response_type":         {"code"},
		"scope":                 {"openid profile email"},
		"state":                 {"xyz"},
		"code_challenge":        {s256(verifier)},
		"code_challenge_method": {"S256"},
	}.Encode()
	rec := ts.do(httptest.NewRequest(http.MethodGet, authURL, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("authorize GET: got %d: %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), `name="code_challenge"`) {
		t.Error("login form does not carry the challenge through")
	}

	code := ts.obtainCode(t, clientID, redirectURI, s256(verifier), "xyz")

	rec = ts.exchangeCode(t, clientID, redirectURI, code, verifier)
	if rec.Code != http.StatusOK {
		t.Fatalf("token exchange: got %d: %s", rec.Code, rec.Body)
	}
	var tok tokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &tok); err != nil {
		t.Fatalf("failed to decode token response: %v", err)
	}
	if tok.AccessToken == "" || tok.TokenType != "Bearer" || tok.ExpiresIn <= 0 {
		t.Fatalf("unexpected token response: %+v", tok)
	}

	// The minted token carries the right subject and tenant.
	claims := ts.handler.Tokens.Verify(tok.AccessToken)
	if claims == nil {
		t.Fatal("minted token does not verify")
	}
	if claims.Subject != identity.ID.String() || claims.TenantID != tenant.ID.String() {
		t.Errorf("claims sub=%q tenant=%q", claims.Subject, claims.TenantID)
	}

	// Userinfo resolves the bearer token and reports the secret flags.
	req := httptest.NewRequest(http.MethodGet, "/oauth/userinfo", nil)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	rec = ts.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("userinfo: got %d: %s", rec.Code, rec.Body)
	}
	var info userInfoResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("failed to decode userinfo: %v", err)
	}
	if info.Email != "owner@test.example" {
		t.Errorf("email = %q", info.Email)
	}
	if !info.Secrets["upstream_api_key"] {
		t.Errorf("secrets_configured = %v, want upstream_api_key true", info.Secrets)
	}
}

func TestTokenReplayExactlyOneSuccess(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	if _, _, err := ts.accounts.Register(ctx, "owner@test.example", "hunter2-hunter2"); err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}

	redirectURI := "http://127.0.0.1:3000"
	reg := ts.registerClient(t, `{"client_name":"cli","redirect_uris":["`+redirectURI+`"]}`)
	clientID := reg["client_id"].(string)

	verifier := strings.Repeat("v", 50)
	code := ts.obtainCode(t, clientID, redirectURI, s256(verifier), "s")

	// Fire both redemptions at once; exactly one may win.
	results := make(chan int, 2)
	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < 2; i++ {
		go func() {
			start.Wait()
			rec := ts.exchangeCode(t, clientID, redirectURI, code, verifier)
			results <- rec.Code
		}()
	}
	start.Done()

	codes := []int{<-results, <-results}
	successes := 0
	for _, status := range codes {
		if status == http.StatusOK {
			successes++
		}
	}
	if successes != 1 {
		t.Fatalf("got %d successes (status codes %v), want exactly 1", successes, codes)
	}

	// And a later replay with identical parameters also fails.
	rec := ts.exchangeCode(t, clientID, redirectURI, code, verifier)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("replay: got %d, want 400", rec.Code)
	}
	var oauthErr struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &oauthErr); err != nil {
		t.Fatalf("failed to decode error: %v", err)
	}
	if oauthErr.Error != "invalid_grant" {
		t.Errorf("error = %q, want invalid_grant", oauthErr.Error)
	}
}

func TestTokenAcceptsJSONBody(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	if _, _, err := ts.accounts.Register(ctx, "owner@test.example", "hunter2-hunter2"); err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}

	redirectURI := "http://127.0.0.1:3000"
	reg := ts.registerClient(t, `{"client_name":"cli","redirect_uris":["`+redirectURI+`"]}`)
	clientID := reg["client_id"].(string)

	verifier := strings.Repeat("v", 50)
	code := ts.obtainCode(t, clientID, redirectURI, s256(verifier), "s")

	body, err := json.Marshal(map[string]string{
		"grant_type":    "authorization_code",
		"code":          code,
		"redirect_uri":  redirectURI,
		"client_id":     clientID,
		"code_verifier": verifier,
	})
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := ts.do(req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), "access_token") {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestTokenRejectsWrongVerifier(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	if _, _, err := ts.accounts.Register(ctx, "owner@test.example", "hunter2-hunter2"); err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}

	redirectURI := "http://127.0.0.1:3000"
	reg := ts.registerClient(t, `{"client_name":"cli","redirect_uris":["`+redirectURI+`"]}`)
	clientID := reg["client_id"].(string)

	verifier := strings.Repeat("v", 50)
	code := ts.obtainCode(t, clientID, redirectURI, s256(verifier), "s")

	rec := ts.exchangeCode(t, clientID, redirectURI, code, strings.Repeat("w", 50))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "invalid_grant") {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestAuthorizeRequiresPKCE(t *testing.T) {
	ts := newTestServer(t)

	redirectURI := "http://127.0.0.1:3000"
	reg := ts.registerClient(t, `{"client_name":"cli","redirect_uris":["`+redirectURI+`"]}`)
	clientID := reg["client_id"].(string)

	authURL := "/oauth/authorize?" + url.Values{
		"client_id":     {clientID},
		"redirect_uri":  {redirectURI},
		"response_type": {"code"},
		"state":         {"xyz"},
	}.Encode()
	rec := ts.do(httptest.NewRequest(http.MethodGet, authURL, nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("got %d, want redirect", rec.Code)
	}
	location := rec.Header().Get("Location")
	if !strings.Contains(location, "error=invalid_request") {
		t.Errorf("location = %q", location)
	}
	if !strings.Contains(location, "state=xyz") {
		t.Errorf("state not preserved: %q", location)
	}
}

func TestAuthorizeRejectsUnknownClientWithoutRedirect(t *testing.T) {
	ts := newTestServer(t)

	authURL := "/oauth/authorize?" + url.Values{
		"client_id":             {"no-such-client"},
		"redirect_uri":          {"http://evil.example"},
		"response_type":         {"code"},
		"code_challenge":        {strings.Repeat("c", 43)},
		"code_challenge_method": {"S256"},
	}.Encode()
	rec := ts.do(httptest.NewRequest(http.MethodGet, authURL, nil))

	// Never redirect to an unverified URI.
	if rec.Code == http.StatusFound {
		t.Fatalf("redirected to %q for an unknown client", rec.Header().Get("Location"))
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got %d, want 401", rec.Code)
	}
}

func TestAuthorizeRejectsUnregisteredRedirectURI(t *testing.T) {
	ts := newTestServer(t)

	reg := ts.registerClient(t, `{"client_name":"cli","redirect_uris":["http://127.0.0.1:3000"]}`)
	clientID := reg["client_id"].(string)

	authURL := "/oauth/authorize?" + url.Values{
		"client_id":             {clientID},
		"redirect_uri":          {"http://evil.example"},
		"response_type":         {"code"},
		"code_challenge":        {strings.Repeat("c", 43)},
		"code_challenge_method": {"S256"},
	}.Encode()
	rec := ts.do(httptest.NewRequest(http.MethodGet, authURL, nil))

	if rec.Code == http.StatusFound {
		t.Fatalf("redirected to %q for an unregistered redirect URI", rec.Header().Get("Location"))
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rec.Code)
	}
}

func TestAuthorizeDenial(t *testing.T) {
	ts := newTestServer(t)

	redirectURI := "http://127.0.0.1:3000"
	reg := ts.registerClient(t, `{"client_name":"cli","redirect_uris":["`+redirectURI+`"]}`)
	clientID := reg["client_id"].(string)

	form := url.Values{
		"client_id":             {clientID},
		"redirect_uri":          {redirectURI},
		"response_type":         {"code"},
		"state":                 {"xyz"},
		"code_challenge":        {strings.Repeat("c", 43)},
		"code_challenge_method": {"S256"},
		"action":                {"deny"},
	}
	req := httptest.NewRequest(http.MethodPost, "/oauth/authorize", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := ts.do(req)

	if rec.Code != http.StatusFound {
		t.Fatalf("got %d, want redirect", rec.Code)
	}
	location := rec.Header().Get("Location")
	if !strings.Contains(location, "error=access_denied") {
		t.Errorf("location = %q", location)
	}
}

func TestTokenRejectsOtherGrantTypes(t *testing.T) {
	ts := newTestServer(t)

	form := url.Values{
		"grant_type": {"client_credentials"},
		"client_id":  {"whatever"},
	}
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := ts.do(req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "unsupported_grant_type") {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestPublicClientRegistrationOmitsSecret(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/oauth/register",
		strings.NewReader(`{"client_name":"cli","redirect_uris":["http://127.0.0.1:3000"],"token_endpoint_auth_method":"none"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := ts.do(req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("got %d: %s", rec.Code, rec.Body)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("client_secret")) {
		t.Errorf("public client response leaks a secret field: %s", rec.Body)
	}
}

func TestConfidentialClientBasicAuth(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	if _, _, err := ts.accounts.Register(ctx, "owner@test.example", "hunter2-hunter2"); err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}

	redirectURI := "http://127.0.0.1:3000"
	reg := ts.registerClient(t,
		`{"client_name":"server-app","redirect_uris":["`+redirectURI+`"],"token_endpoint_auth_method":"client_secret_post"}`)
	clientID := reg["client_id"].(string)
	clientSecret, _ := reg["client_secret"].(string)
	if clientSecret == "" {
		t.Fatal("confidential client received no secret")
	}

	verifier := strings.Repeat("v", 50)
	code := ts.obtainCode(t, clientID, redirectURI, s256(verifier), "s")

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"code_verifier": {verifier},
	}
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Basic "+
		base64.StdEncoding.EncodeToString([]byte(clientID+":"+clientSecret)))
	rec := ts.do(req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rec.Code, rec.Body)
	}
}

func TestUserInfoRequiresBearer(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/oauth/userinfo", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/oauth/userinfo", nil)
	req.Header.Set("Authorization", "Bearer not-a-real-token")
	rec = ts.do(req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got %d, want 401", rec.Code)
	}
}

func TestMetadataDocument(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/.well-known/oauth-authorization-server", "/.well-known/openid-configuration"} {
		rec := ts.do(httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: got %d", path, rec.Code)
		}

		var meta serverMetadata
		if err := json.Unmarshal(rec.Body.Bytes(), &meta); err != nil {
			t.Fatalf("failed to decode metadata: %v", err)
		}
		if meta.Issuer != "https://auth.test.example" {
			t.Errorf("issuer = %q", meta.Issuer)
		}
		if len(meta.CodeChallengeMethodsSupported) != 1 || meta.CodeChallengeMethodsSupported[0] != "S256" {
			t.Errorf("code_challenge_methods_supported = %v", meta.CodeChallengeMethodsSupported)
		}
	}
}

func TestJWKSEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d", rec.Code)
	}

	var doc token.JWKSDocument
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("failed to decode JWKS: %v", err)
	}
	if len(doc.Keys) != 1 || doc.Keys[0].Kty != "RSA" {
		t.Fatalf("unexpected JWKS: %+v", doc)
	}
}

func TestVaultEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	identity, tenant, err := ts.accounts.Register(ctx, "owner@test.example", "hunter2-hunter2")
	if err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}
	accessToken, _, err := ts.handler.Tokens.Mint(identity.ID, tenant.ID, identity.Email, "lodgic:api")
	if err != nil {
		t.Fatalf("failed to mint token: %v", err)
	}
	bearer := func(req *http.Request) *http.Request {
		req.Header.Set("Authorization", "Bearer "+accessToken)
		return req
	}

	// Store
	req := bearer(httptest.NewRequest(http.MethodPost, "/api/keys",
		strings.NewReader(`{"name":"stripe_api_key","value":"sk_live_9"}`)))
	req.Header.Set("Content-Type", "application/json")
	if rec := ts.do(req); rec.Code != http.StatusCreated {
		t.Fatalf("store: got %d: %s", rec.Code, rec.Body)
	}

	// List
	rec := ts.do(bearer(httptest.NewRequest(http.MethodGet, "/api/keys", nil)))
	if rec.Code != http.StatusOK {
		t.Fatalf("list: got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "stripe_api_key") {
		t.Errorf("list body = %s", rec.Body)
	}
	if strings.Contains(rec.Body.String(), "sk_live_9") {
		t.Errorf("list leaks plaintext: %s", rec.Body)
	}

	// Fetch
	rec = ts.do(bearer(httptest.NewRequest(http.MethodGet, "/api/keys/stripe_api_key", nil)))
	if rec.Code != http.StatusOK {
		t.Fatalf("get: got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "sk_live_9") {
		t.Errorf("get body = %s", rec.Body)
	}

	// Revoke
	rec = ts.do(bearer(httptest.NewRequest(http.MethodDelete, "/api/keys/stripe_api_key", nil)))
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke: got %d", rec.Code)
	}

	// Gone now
	rec = ts.do(bearer(httptest.NewRequest(http.MethodGet, "/api/keys/stripe_api_key", nil)))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after revoke: got %d, want 404", rec.Code)
	}
}

func TestAPIRegisterAndLogin(t *testing.T) {
	ts := newTestServer(t)

	// Register with an upstream key seeds the vault.
	req := httptest.NewRequest(http.MethodPost, "/api/register",
		strings.NewReader(`{"email":"new@test.example","password":"correct-horse-battery","upstream_key":"up_123"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := ts.do(req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: got %d: %s", rec.Code, rec.Body)
	}
	var sess sessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatalf("failed to decode session: %v", err)
	}
	if sess.AccessToken == "" {
		t.Fatal("registration returned no token")
	}

	// The seeded key shows up in the profile flags.
	req = httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	req.Header.Set("Authorization", "Bearer "+sess.AccessToken)
	rec = ts.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("profile: got %d: %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), "upstream_api_key") {
		t.Errorf("profile body = %s", rec.Body)
	}

	// Login with bad credentials is generic.
	req = httptest.NewRequest(http.MethodPost, "/api/login",
		strings.NewReader(`{"email":"new@test.example","password":"wrong"}`))
	req.Header.Set("Content-Type", "application/json")
	rec = ts.do(req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad login: got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "invalid credentials") {
		t.Errorf("bad login body = %s", rec.Body)
	}

	// Login with good credentials works.
	req = httptest.NewRequest(http.MethodPost, "/api/login",
		strings.NewReader(`{"email":"new@test.example","password":"correct-horse-battery"}`))
	req.Header.Set("Content-Type", "application/json")
	rec = ts.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: got %d: %s", rec.Code, rec.Body)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "healthy") {
		t.Errorf("body = %s", rec.Body)
	}
}
