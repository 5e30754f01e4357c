package sshmanager

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/sentryfrogg/engine/internal/platform/apperr"
)

// dialConfig is the materialized connection description for one profile
// (spec §4.5 "Connection config materialization").
type dialConfig struct {
	Host          string
	Port          int
	Username      string
	Password      string
	PrivateKey    string
	Passphrase    string
	TimeoutMS     int
	HostKeyPolicy hostKeyPolicy
}

type hostKeyPolicy struct {
	Mode        string // accept|pin|tofu
	Fingerprint string // host_key_fingerprint_sha256, either SHA256:... or bare base64
	Persist     bool   // tofu_persist
}

func dialConfigFromProfile(data map[string]interface{}, secrets map[string]string) (dialConfig, error) {
	host, _ := data["host"].(string)
	if host == "" {
		return dialConfig{}, apperr.MissingParam("host")
	}
	username, _ := data["username"].(string)
	if username == "" {
		return dialConfig{}, apperr.MissingParam("username")
	}

	port := 22
	switch p := data["port"].(type) {
	case float64:
		port = int(p)
	case int:
		port = p
	}

	timeoutMS := 5000
	switch t := data["timeout_ms"].(type) {
	case float64:
		timeoutMS = int(t)
	case int:
		timeoutMS = t
	}

	mode, _ := data["host_key_policy"].(string)
	if mode == "" {
		mode = "accept"
	}
	fingerprint, _ := data["host_key_fingerprint_sha256"].(string)
	persist, _ := data["tofu_persist"].(bool)

	return dialConfig{
		Host: host, Port: port, Username: username,
		Password:   secrets["password"],
		PrivateKey: secrets["private_key"],
		Passphrase: secrets["passphrase"],
		TimeoutMS:  timeoutMS,
		HostKeyPolicy: hostKeyPolicy{
			Mode: mode, Fingerprint: fingerprint, Persist: persist,
		},
	}, nil
}

func dialAddr(dc dialConfig) string {
	return net.JoinHostPort(dc.Host, fmt.Sprint(dc.Port))
}

// buildClientConfig selects an auth method in priority privateKey[+passphrase]
// then password, and wires the host-key policy callback.
func buildClientConfig(dc dialConfig, onTofuPersist func(fingerprint string) error) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod

	switch {
	case dc.PrivateKey != "":
		var signer ssh.Signer
		var err error
		if dc.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(dc.PrivateKey), []byte(dc.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey([]byte(dc.PrivateKey))
		}
		if err != nil {
			return nil, apperr.Wrap(apperr.InvalidParams, "ssh_key_invalid", "failed to parse private key", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	case dc.Password != "":
		auth = append(auth, ssh.Password(dc.Password))
	default:
		return nil, apperr.New(apperr.InvalidParams, "ssh_missing_auth", "no private key or password is configured for this profile")
	}

	callback, err := buildHostKeyCallback(dc.HostKeyPolicy, onTofuPersist)
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(dc.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &ssh.ClientConfig{
		User:            dc.Username,
		Auth:            auth,
		HostKeyCallback: callback,
		Timeout:         timeout,
	}, nil
}

// buildHostKeyCallback implements spec §4.5's "Host-key policy" modes.
func buildHostKeyCallback(policy hostKeyPolicy, onTofuPersist func(string) error) (ssh.HostKeyCallback, error) {
	switch policy.Mode {
	case "pin":
		if policy.Fingerprint == "" {
			return nil, apperr.New(apperr.InvalidParams, "ssh_pin_missing_fingerprint", "host_key_policy=pin requires host_key_fingerprint_sha256")
		}
		return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			got := fingerprintSHA256(key)
			if !fingerprintsEqual(got, policy.Fingerprint) {
				return apperr.New(apperr.Denied, "ssh_host_key_mismatch", "host key fingerprint does not match the pinned value").
					WithDetails("expected", policy.Fingerprint).WithDetails("actual", got)
			}
			return nil
		}, nil

	case "tofu":
		return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			got := fingerprintSHA256(key)
			if policy.Fingerprint != "" {
				if !fingerprintsEqual(got, policy.Fingerprint) {
					return apperr.New(apperr.Denied, "ssh_host_key_mismatch", "host key fingerprint does not match the pinned value").
						WithDetails("expected", policy.Fingerprint).WithDetails("actual", got)
				}
				return nil
			}
			if policy.Persist && onTofuPersist != nil {
				if err := onTofuPersist(got); err != nil {
					return err
				}
			}
			return nil
		}, nil

	default: // "accept"
		return ssh.InsecureIgnoreHostKey(), nil
	}
}

// fingerprintSHA256 renders a public key as "SHA256:<base64-no-padding>",
// per spec §8 scenario 3.
func fingerprintSHA256(key ssh.PublicKey) string {
	sum := sha256.Sum256(key.Marshal())
	return "SHA256:" + base64.RawStdEncoding.EncodeToString(sum[:])
}

// fingerprintsEqual accepts both "SHA256:..." and bare-base64 pinned forms.
func fingerprintsEqual(computed, pinned string) bool {
	pinned = strings.TrimPrefix(pinned, "SHA256:")
	computed = strings.TrimPrefix(computed, "SHA256:")
	return computed == pinned
}

func dialWithContext(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ssh.NewClient(clientConn, chans, reqs), nil
}

// shellQuote POSIX-single-quote-escapes s for safe inclusion in a shell
// command line (spec §4.5 "cwd shell-escaped").
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
