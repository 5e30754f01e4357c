package httpclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/sentryfrogg/engine/internal/dynvalue"
	"github.com/sentryfrogg/engine/internal/model"
	"github.com/sentryfrogg/engine/internal/platform/apperr"
)

const defaultOAuthBufferMS = 30 * 1000

// tokenCache is the process-wide OAuth2 token cache, keyed by profile
// name, holding each token until expires_in-buffer_ms (spec §4.6 "Auth").
type tokenCache struct {
	mu     sync.Mutex
	tokens map[string]cachedToken
}

type cachedToken struct {
	value     string
	expiresAt time.Time
}

func newTokenCache() *tokenCache {
	return &tokenCache{tokens: map[string]cachedToken{}}
}

func (tc *tokenCache) get(key string) (string, bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	t, ok := tc.tokens[key]
	if !ok || time.Now().After(t.expiresAt) {
		return "", false
	}
	return t.value, true
}

func (tc *tokenCache) set(key, value string, ttl time.Duration) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.tokens[key] = cachedToken{value: value, expiresAt: time.Now().Add(ttl)}
}

func (tc *tokenCache) invalidate(key string) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	delete(tc.tokens, key)
}

// applyAuth attaches credentials to httpReq according to the profile's
// auth_kind/auth_provider configuration.
func (c *Client) applyAuth(ctx context.Context, prof *model.Profile, secrets map[string]string, httpReq *http.Request) error {
	kind, _ := prof.Data["auth_kind"].(string)
	if kind == "" {
		return nil
	}
	provider, _ := prof.Data["auth_provider"].(string)
	if provider == "" {
		provider = "static"
	}

	token, err := c.resolveToken(ctx, prof, secrets, provider)
	if err != nil {
		return err
	}

	switch kind {
	case "bearer":
		httpReq.Header.Set("Authorization", "Bearer "+token)
	case "basic":
		user, _ := prof.Data["basic_user"].(string)
		httpReq.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(user+":"+token)))
	case "raw":
		httpReq.Header.Set("Authorization", token)
	case "header":
		headerName, _ := prof.Data["auth_header"].(string)
		if headerName == "" {
			headerName = "Authorization"
		}
		httpReq.Header.Set(headerName, token)
	default:
		return apperr.New(apperr.InvalidParams, "http_unknown_auth_kind", "unknown auth_kind").WithDetails("auth_kind", kind)
	}
	return nil
}

func (c *Client) resolveToken(ctx context.Context, prof *model.Profile, secrets map[string]string, provider string) (string, error) {
	switch provider {
	case "static":
		return secrets["token"], nil
	case "exec":
		return c.resolveExecToken(prof, secrets)
	case "oauth2":
		return c.resolveOAuth2Token(ctx, prof, secrets)
	default:
		return "", apperr.New(apperr.InvalidParams, "http_unknown_auth_provider", "unknown auth_provider").WithDetails("auth_provider", provider)
	}
}

// resolveExecToken invokes a local command and parses a token from its
// stdout, either raw or via a json token_path (spec §4.6 "exec").
func (c *Client) resolveExecToken(prof *model.Profile, secrets map[string]string) (string, error) {
	command, _ := prof.Data["auth_exec_command"].(string)
	if command == "" {
		return "", apperr.MissingParam("auth_exec_command")
	}
	args, _ := prof.Data["auth_exec_args"].([]interface{})
	strArgs := make([]string, 0, len(args))
	for _, a := range args {
		if s, ok := a.(string); ok {
			strArgs = append(strArgs, s)
		}
	}

	cmd := exec.Command(command, strArgs...)
	out, err := cmd.Output()
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, "http_auth_exec_failed", "auth exec command failed", err)
	}
	out = bytes.TrimSpace(out)

	format, _ := prof.Data["auth_exec_format"].(string)
	if format == "" || format == "raw" {
		return string(out), nil
	}

	var parsed interface{}
	if err := json.Unmarshal(out, &parsed); err != nil {
		return "", apperr.Wrap(apperr.Internal, "http_auth_exec_bad_json", "auth exec command did not produce valid json", err)
	}
	tokenPath, _ := prof.Data["auth_exec_token_path"].(string)
	val, ok := dynvalue.Get(parsed, tokenPath)
	if !ok {
		return "", apperr.New(apperr.Internal, "http_auth_exec_token_missing", "token_path did not resolve in exec output")
	}
	s, _ := val.(string)
	return s, nil
}

// resolveOAuth2Token performs (and caches) a client_credentials or
// refresh_token grant (spec §4.6 "oauth2").
func (c *Client) resolveOAuth2Token(ctx context.Context, prof *model.Profile, secrets map[string]string) (string, error) {
	cacheKey := prof.Name
	if tok, ok := c.tokens.get(cacheKey); ok {
		return tok, nil
	}

	tokenURL, _ := prof.Data["oauth2_token_url"].(string)
	if tokenURL == "" {
		return "", apperr.MissingParam("oauth2_token_url")
	}
	grantType, _ := prof.Data["oauth2_grant_type"].(string)
	if grantType == "" {
		grantType = "client_credentials"
	}

	form := url.Values{}
	form.Set("grant_type", grantType)
	if clientID, _ := prof.Data["oauth2_client_id"].(string); clientID != "" {
		form.Set("client_id", clientID)
	}
	if secret := secrets["client_secret"]; secret != "" {
		form.Set("client_secret", secret)
	}
	switch grantType {
	case "refresh_token":
		if rt := secrets["refresh_token"]; rt != "" {
			form.Set("refresh_token", rt)
		}
	}
	if scope, _ := prof.Data["oauth2_scope"].(string); scope != "" {
		form.Set("scope", scope)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", apperr.InternalErr("build oauth2 token request", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return "", apperr.RetryableErr("oauth2 token request failed", err)
	}
	defer httpResp.Body.Close()

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&body); err != nil {
		return "", apperr.Wrap(apperr.Internal, "http_oauth2_bad_response", "failed to decode oauth2 token response", err)
	}
	if httpResp.StatusCode >= 400 || body.AccessToken == "" {
		return "", apperr.New(apperr.Denied, "http_oauth2_denied", fmt.Sprintf("oauth2 token request failed with status %d", httpResp.StatusCode))
	}

	bufferMS := int64(defaultOAuthBufferMS)
	if b, ok := prof.Data["oauth2_buffer_ms"].(float64); ok {
		bufferMS = int64(b)
	}
	ttl := time.Duration(body.ExpiresIn)*time.Second - time.Duration(bufferMS)*time.Millisecond
	if ttl <= 0 {
		ttl = time.Second
	}
	c.tokens.set(cacheKey, body.AccessToken, ttl)
	return body.AccessToken, nil
}
