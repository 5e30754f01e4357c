// Package vault implements the KV v2 Vault Client of spec §4.3: token or
// AppRole auth, with a single auto-login retry on 401/403.
package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sentryfrogg/engine/internal/model"
	"github.com/sentryfrogg/engine/internal/platform/apperr"
	"github.com/sentryfrogg/engine/internal/platform/resilience"
)

// ProfileStore is the subset of profiles.Store the Vault client needs: read
// a vault profile and persist a refreshed token back into its secrets.
type ProfileStore interface {
	Get(name string, expectedType model.ProfileType) (model.Profile, map[string]string, error)
	Upsert(name string, ptype model.ProfileType, data map[string]interface{}, secrets map[string]string) (model.Profile, error)
}

// Client is the process-wide Vault client.
type Client struct {
	store      ProfileStore
	httpClient *http.Client
}

func New(store ProfileStore, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{store: store, httpClient: httpClient}
}

// Options configures a single KV2Get call.
type Options struct {
	Retries   int
	TimeoutMS int
}

// ResolveKV2 implements secretref.VaultResolver: reads mountPathKey of the
// form "mount/path#key" from the named vault profile. An empty profileName
// is looked up as given; no default or sole vault profile is chosen.
func (c *Client) ResolveKV2(ctx context.Context, profileName, mountPathKey string) (string, error) {
	idx := strings.LastIndex(mountPathKey, "#")
	if idx < 0 {
		return "", apperr.New(apperr.InvalidParams, "secret_ref_shape_error", "missing #key in vault reference")
	}
	path, key := mountPathKey[:idx], mountPathKey[idx+1:]

	raw, err := c.KV2Get(ctx, profileName, path, nil, Options{})
	if err != nil {
		return "", err
	}
	val, ok := raw[key]
	if !ok {
		return "", apperr.New(apperr.NotFound, "secret_ref_shape_error", "key not present in vault secret").
			WithDetails("key", key)
	}
	s, ok := val.(string)
	if !ok {
		return "", apperr.New(apperr.InvalidParams, "secret_ref_shape_error", "vault value is not a string")
	}
	return s, nil
}

// kv2Response models Vault's {data:{data:{...}}} response envelope.
type kv2Response struct {
	Data struct {
		Data map[string]interface{} `json:"data"`
	} `json:"data"`
	Errors []string `json:"errors"`
}

// KV2Get reads mount/path at version (0 = latest) from the named profile.
func (c *Client) KV2Get(ctx context.Context, profileName, mountPath string, version *int, opts Options) (map[string]interface{}, error) {
	if opts.Retries == 0 {
		opts.Retries = 1
	}

	prof, secrets, err := c.store.Get(profileName, model.ProfileVault)
	if err != nil {
		return nil, err
	}

	addr, _ := prof.Data["addr"].(string)
	addr = normalizeAddr(addr)
	namespace, _ := prof.Data["namespace"].(string)

	mount, secretPath := splitMount(mountPath)
	path := fmt.Sprintf("%s/v1/%s/data/%s", addr, mount, secretPath)
	if version != nil {
		path = fmt.Sprintf("%s?version=%d", path, *version)
	}

	login := func() error {
		newToken, err := c.appRoleLogin(ctx, addr, namespace, secrets)
		if err != nil {
			return err
		}
		secrets["token"] = newToken
		if _, err := c.store.Upsert(profileName, model.ProfileVault, prof.Data, secrets); err != nil {
			return apperr.InternalErr("persist refreshed vault token", err)
		}
		return nil
	}

	read := func() (map[string]interface{}, int, error) {
		var data map[string]interface{}
		var status int
		err := resilience.Retry(ctx, resilience.RetryConfig{
			MaxAttempts: maxInt(opts.Retries, 1), InitialDelay: 150 * time.Millisecond, MaxDelay: 150 * time.Millisecond, Multiplier: 1,
		}, nil, func(int) error {
			raw, s, err := c.rawGet(ctx, path, secrets["token"], namespace)
			status = s
			if err != nil {
				return err
			}
			var envelope kv2Response
			if jerr := remarshal(raw, &envelope); jerr != nil {
				return apperr.InternalErr("decode vault kv2 response", jerr)
			}
			data = envelope.Data.Data
			return nil
		})
		return data, status, err
	}

	// No token yet: auto-login before the first read (spec §4.3/§8 scenario 1).
	if secrets["token"] == "" {
		if err := login(); err != nil {
			return nil, err
		}
		data, _, err := read()
		return data, err
	}

	data, status, err := read()
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		if loginErr := login(); loginErr != nil {
			if err != nil {
				return nil, err
			}
			return nil, loginErr
		}
		data, _, err = read()
	}
	return data, err
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// SysHealth probes the named vault profile's /v1/sys/health endpoint. The
// response is vault's flat top-level health document, not the KV2 envelope.
func (c *Client) SysHealth(ctx context.Context, profileName string) (map[string]interface{}, error) {
	prof, secrets, err := c.store.Get(profileName, model.ProfileVault)
	if err != nil {
		return nil, err
	}
	addr, _ := prof.Data["addr"].(string)
	data, _, err := c.rawGet(ctx, normalizeAddr(addr)+"/v1/sys/health", secrets["token"], fmt.Sprint(prof.Data["namespace"]))
	return data, err
}

// TokenLookupSelf reports the current token's metadata via
// /v1/auth/token/lookup-self. The metadata sits one level shallower than a
// KV2 read ({"data": {...}}, not {"data": {"data": {...}}}).
func (c *Client) TokenLookupSelf(ctx context.Context, profileName string) (map[string]interface{}, error) {
	prof, secrets, err := c.store.Get(profileName, model.ProfileVault)
	if err != nil {
		return nil, err
	}
	addr, _ := prof.Data["addr"].(string)
	raw, _, err := c.rawGet(ctx, normalizeAddr(addr)+"/v1/auth/token/lookup-self", secrets["token"], fmt.Sprint(prof.Data["namespace"]))
	if err != nil {
		return nil, err
	}
	if data, ok := raw["data"].(map[string]interface{}); ok {
		return data, nil
	}
	return raw, nil
}

// rawGet performs an authenticated GET and returns the fully decoded JSON
// body. Callers reshape it to whatever envelope their endpoint actually
// uses; vault's error, KV2, and plain document shapes all differ.
func (c *Client) rawGet(ctx context.Context, url, token, namespace string) (map[string]interface{}, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, apperr.InternalErr("build vault request", err)
	}
	if token != "" {
		req.Header.Set("X-Vault-Token", token)
	}
	if namespace != "" {
		req.Header.Set("X-Vault-Namespace", namespace)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, apperr.RetryableErr("vault request failed", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		var envelope struct {
			Errors []string `json:"errors"`
		}
		_ = json.Unmarshal(body, &envelope)
		msg := "vault request failed"
		if len(envelope.Errors) > 0 {
			msg = strings.Join(envelope.Errors, "; ")
		}
		return nil, resp.StatusCode, apperr.New(statusCategory(resp.StatusCode), "vault_error", msg)
	}

	if len(body) == 0 {
		return map[string]interface{}{}, resp.StatusCode, nil
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, resp.StatusCode, apperr.InternalErr("decode vault response", err)
	}
	return raw, resp.StatusCode, nil
}

// remarshal re-encodes src as JSON and decodes it into dst, used to reshape
// a generic map into a typed envelope without a second HTTP round trip.
func remarshal(src map[string]interface{}, dst interface{}) error {
	b, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

func (c *Client) appRoleLogin(ctx context.Context, addr, namespace string, secrets map[string]string) (string, error) {
	roleID, secretID := secrets["role_id"], secrets["secret_id"]
	if roleID == "" || secretID == "" {
		return "", apperr.DeniedErr("vault token rejected and no approle credentials are configured")
	}

	payload, _ := json.Marshal(map[string]string{"role_id": roleID, "secret_id": secretID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, addr+"/v1/auth/approle/login", bytes.NewReader(payload))
	if err != nil {
		return "", apperr.InternalErr("build approle login request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if namespace != "" {
		req.Header.Set("X-Vault-Namespace", namespace)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperr.RetryableErr("approle login failed", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		return "", apperr.New(statusCategory(resp.StatusCode), "approle_login_failed", "approle login rejected")
	}

	var loginResp struct {
		Auth struct {
			ClientToken string `json:"client_token"`
		} `json:"auth"`
	}
	if err := json.Unmarshal(body, &loginResp); err != nil {
		return "", apperr.InternalErr("decode approle login response", err)
	}
	if loginResp.Auth.ClientToken == "" {
		return "", apperr.New(apperr.Denied, "approle_login_failed", "approle login returned no token")
	}
	return loginResp.Auth.ClientToken, nil
}

func statusCategory(status int) apperr.Category {
	switch {
	case status == 401 || status == 403:
		return apperr.Denied
	case status == 404:
		return apperr.NotFound
	case status >= 500:
		return apperr.Retryable
	default:
		return apperr.Internal
	}
}

func normalizeAddr(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.TrimSuffix(addr, "/")
	if idx := strings.Index(addr, "?"); idx >= 0 {
		addr = addr[:idx]
	}
	return addr
}

// splitMount splits "mount/path" at the first slash into the mount and the
// secret path, which KV2Get formats as "/v1/<mount>/data/<path>".
func splitMount(mountPath string) (string, string) {
	idx := strings.Index(mountPath, "/")
	if idx < 0 {
		return mountPath, ""
	}
	return mountPath[:idx], mountPath[idx+1:]
}
