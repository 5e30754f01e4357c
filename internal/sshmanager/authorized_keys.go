package sshmanager

import (
	"bufio"
	"context"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/sentryfrogg/engine/internal/platform/apperr"
)

// authorizedKeysScript is the portable POSIX shell script spec §4.5 describes
// for `authorized_keys_add`: it creates ~/.ssh (0700) and authorized_keys
// (0600) if missing, reads one key line from stdin, scans existing entries
// for an exact (type, blob) match, and reports present/added. The last line
// of output is always the resolved authorized_keys path.
const authorizedKeysScript = `set -e
umask 077
mkdir -p "$HOME/.ssh"
chmod 700 "$HOME/.ssh"
touch "$HOME/.ssh/authorized_keys"
chmod 600 "$HOME/.ssh/authorized_keys"
read -r keyline
ktype=$(printf '%s' "$keyline" | awk '{print $1}')
kblob=$(printf '%s' "$keyline" | awk '{print $2}')
found=0
while read -r t b _; do
  if [ "$t" = "$ktype" ] && [ "$b" = "$kblob" ]; then
    found=1
    break
  fi
done < "$HOME/.ssh/authorized_keys"
if [ "$found" = "1" ]; then
  echo present
else
  printf '%s\n' "$keyline" >> "$HOME/.ssh/authorized_keys"
  echo added
fi
printf '%s\n' "$HOME/.ssh/authorized_keys"
`

// AuthorizedKeysAddResult mirrors spec §4.5's literal return shape.
type AuthorizedKeysAddResult struct {
	Changed              bool   `json:"changed"`
	KeyFingerprintSHA256 string `json:"key_fingerprint_sha256"`
	AuthorizedKeysPath   string `json:"authorized_keys_path"`
}

// AuthorizedKeysAdd appends keyLine (an "ssh-<type> <base64> [comment]" line)
// to the remote user's authorized_keys if not already present.
func (m *Manager) AuthorizedKeysAdd(ctx context.Context, profileName, keyLine string) (AuthorizedKeysAddResult, error) {
	keyLine = strings.TrimSpace(keyLine)
	pubKey, _, _, _, err := ssh.ParseAuthorizedKey([]byte(keyLine))
	if err != nil {
		return AuthorizedKeysAddResult{}, apperr.Wrap(apperr.InvalidParams, "ssh_key_line_invalid", "failed to parse authorized_keys line", err)
	}

	var result AuthorizedKeysAddResult
	result.KeyFingerprintSHA256 = fingerprintSHA256(pubKey)

	err = m.withClient(ctx, profileName, func(client *ssh.Client) error {
		sess, err := client.NewSession()
		if err != nil {
			return apperr.Wrap(apperr.Retryable, "ssh_session_failed", "failed to open ssh session", err)
		}
		defer sess.Close()

		sess.Stdin = strings.NewReader(keyLine + "\n")
		var stdout strings.Builder
		sess.Stdout = &stdout

		if err := sess.Run("/bin/sh -s"); err != nil {
			return apperr.Wrap(apperr.Internal, "ssh_authorized_keys_failed", "authorized_keys script failed", err)
		}

		scanner := bufio.NewScanner(strings.NewReader(stdout.String()))
		var lines []string
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		if len(lines) < 2 {
			return apperr.New(apperr.Internal, "ssh_authorized_keys_bad_output", "authorized_keys script produced unexpected output").
				WithDetails("output", stdout.String())
		}
		status := lines[len(lines)-2]
		result.AuthorizedKeysPath = lines[len(lines)-1]
		result.Changed = status == "added"
		return nil
	})
	if err != nil {
		return AuthorizedKeysAddResult{}, err
	}
	return result, nil
}
