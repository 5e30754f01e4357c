// Package secretref implements the Secret Reference Resolver of spec §4.2:
// deep, pure expansion of "ref:env:NAME" and "ref:vault:kv2:mount/path#key"
// placeholders inside arbitrary configuration.
package secretref

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/sentryfrogg/engine/internal/dynvalue"
	"github.com/sentryfrogg/engine/internal/platform/apperr"
)

var refPattern = regexp.MustCompile(`^ref:(env|vault):(.+)$`)

// VaultResolver resolves a "vault:kv2:mount/path#key" body using a named
// vault profile. ResolveDeep passes RequestContext.VaultProfileName through
// as is, empty included; it does not pick a default profile.
type VaultResolver interface {
	ResolveKV2(ctx context.Context, profileName, mountPathKey string) (string, error)
}

// RequestContext supplies the ambient vault profile name used when a
// reference does not otherwise carry one (spec §4.2's "named
// vault_profile_name (from request, else target binding, else singleton)").
type RequestContext struct {
	VaultProfileName string
	Vault            VaultResolver
}

// ResolveDeep walks value and returns a new structure with every ref:…
// string expanded. It never mutates the input (dynvalue.Walk always
// allocates fresh containers) and is idempotent: resolving an
// already-resolved tree is the identity, because resolved values are plain
// strings that no longer match refPattern.
func ResolveDeep(ctx context.Context, value dynvalue.Value, rc RequestContext) (dynvalue.Value, error) {
	var firstErr error
	out := dynvalue.Walk(value, func(_ string, v dynvalue.Value) dynvalue.Value {
		if firstErr != nil {
			return v
		}
		s, ok := dynvalue.IsString(v)
		if !ok {
			return v
		}
		resolved, err := resolveOne(ctx, s, rc)
		if err != nil {
			firstErr = err
			return v
		}
		return resolved
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func resolveOne(ctx context.Context, s string, rc RequestContext) (string, error) {
	m := refPattern.FindStringSubmatch(s)
	if m == nil {
		return s, nil
	}
	scheme, body := m[1], m[2]
	switch scheme {
	case "env":
		return resolveEnv(body)
	case "vault":
		return resolveVault(ctx, body, rc)
	default:
		return s, nil
	}
}

func resolveEnv(name string) (string, error) {
	name = strings.TrimSpace(name)
	v, ok := os.LookupEnv(name)
	if !ok {
		return "", apperr.New(apperr.NotFound, "secret_ref_unresolved", "environment variable is not set").
			WithHint(fmt.Sprintf("set %s in the process environment", name)).
			WithDetails("name", name)
	}
	return v, nil
}

func resolveVault(ctx context.Context, body string, rc RequestContext) (string, error) {
	const prefix = "kv2:"
	if !strings.HasPrefix(body, prefix) {
		return "", apperr.New(apperr.InvalidParams, "secret_ref_shape_error", "vault reference must start with kv2:").
			WithDetails("body", body)
	}
	mountPathKey := strings.TrimPrefix(body, prefix)
	if !strings.Contains(mountPathKey, "#") {
		return "", apperr.New(apperr.InvalidParams, "secret_ref_shape_error", "vault reference missing #key suffix").
			WithDetails("body", body)
	}
	if rc.Vault == nil {
		return "", apperr.New(apperr.Internal, "vault_unconfigured", "no vault client is configured")
	}
	val, err := rc.Vault.ResolveKV2(ctx, rc.VaultProfileName, mountPathKey)
	if err != nil {
		if te, ok := apperr.As(err); ok {
			return "", te
		}
		return "", apperr.New(apperr.NotFound, "secret_ref_shape_error", "vault key or shape mismatch").
			WithDetails("body", body)
	}
	return val, nil
}
