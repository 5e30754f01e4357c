package sshmanager

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/sentryfrogg/engine/internal/platform/apperr"
)

// SFTPEntry describes one remote directory entry (spec §4.5 "sftp_list").
type SFTPEntry struct {
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	Mode    string `json:"mode"`
	ModTime string `json:"mtime"`
	IsDir   bool   `json:"is_dir"`
}

// SFTPList lists the contents of a remote directory.
func (m *Manager) SFTPList(ctx context.Context, profileName, remotePath string) ([]SFTPEntry, error) {
	var entries []SFTPEntry
	err := m.withSFTP(ctx, profileName, func(client *sftp.Client) error {
		infos, err := client.ReadDir(remotePath)
		if err != nil {
			return apperr.Wrap(apperr.NotFound, "sftp_list_failed", "failed to list remote directory", err)
		}
		entries = make([]SFTPEntry, 0, len(infos))
		for _, info := range infos {
			entries = append(entries, SFTPEntry{
				Name: info.Name(), Size: info.Size(), Mode: info.Mode().String(),
				ModTime: info.ModTime().UTC().Format(time.RFC3339), IsDir: info.IsDir(),
			})
		}
		return nil
	})
	return entries, err
}

// SFTPUploadRequest is one `sftp_upload` call.
type SFTPUploadRequest struct {
	ProfileName   string
	LocalPath     string
	RemotePath    string
	Overwrite     bool
	MakeDirs      bool
	PreserveMtime bool
}

// SFTPUpload streams a local file to a remote path.
func (m *Manager) SFTPUpload(ctx context.Context, req SFTPUploadRequest) (int64, error) {
	var written int64
	err := m.withSFTP(ctx, req.ProfileName, func(client *sftp.Client) error {
		if !req.Overwrite {
			if _, err := client.Stat(req.RemotePath); err == nil {
				return apperr.New(apperr.Conflict, "sftp_exists", "remote file already exists; set overwrite=true").
					WithDetails("path", req.RemotePath)
			}
		}
		if req.MakeDirs {
			if err := client.MkdirAll(path.Dir(req.RemotePath)); err != nil {
				return apperr.Wrap(apperr.Internal, "sftp_mkdir_failed", "failed to create remote parent directories", err)
			}
		}

		local, err := os.Open(req.LocalPath)
		if err != nil {
			return apperr.Wrap(apperr.NotFound, "sftp_local_missing", "failed to open local file", err)
		}
		defer local.Close()

		remote, err := client.Create(req.RemotePath)
		if err != nil {
			return apperr.Wrap(apperr.Internal, "sftp_create_failed", "failed to create remote file", err)
		}
		defer remote.Close()

		n, err := io.Copy(remote, local)
		written = n
		if err != nil {
			return apperr.Wrap(apperr.Internal, "sftp_write_failed", "failed to write remote file", err)
		}

		if req.PreserveMtime {
			if info, statErr := local.Stat(); statErr == nil {
				_ = client.Chtimes(req.RemotePath, time.Now(), info.ModTime())
			}
		}
		return nil
	})
	return written, err
}

// SFTPDownloadRequest is one `sftp_download` call.
type SFTPDownloadRequest struct {
	ProfileName   string
	RemotePath    string
	LocalPath     string
	Overwrite     bool
	MakeDirs      bool
	PreserveMtime bool
}

// SFTPDownload streams a remote file to disk via a temp sibling + atomic
// rename, mirroring the download atomicity rule spec §4.6 states for the
// HTTP client's `download` operation.
func (m *Manager) SFTPDownload(ctx context.Context, req SFTPDownloadRequest) (int64, error) {
	var written int64
	err := m.withSFTP(ctx, req.ProfileName, func(client *sftp.Client) error {
		if !req.Overwrite {
			if _, err := os.Stat(req.LocalPath); err == nil {
				return apperr.New(apperr.Conflict, "sftp_local_exists", "local file already exists; set overwrite=true").
					WithDetails("path", req.LocalPath)
			}
		}
		if req.MakeDirs {
			if err := os.MkdirAll(filepath.Dir(req.LocalPath), 0o755); err != nil {
				return apperr.Wrap(apperr.Internal, "sftp_local_mkdir_failed", "failed to create local parent directories", err)
			}
		}

		remote, err := client.Open(req.RemotePath)
		if err != nil {
			return apperr.Wrap(apperr.NotFound, "sftp_remote_missing", "failed to open remote file", err)
		}
		defer remote.Close()

		partPath := req.LocalPath + ".part"
		part, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return apperr.Wrap(apperr.Internal, "sftp_local_create_failed", "failed to create local temp file", err)
		}

		n, copyErr := io.Copy(part, remote)
		written = n
		closeErr := part.Close()
		if copyErr != nil {
			os.Remove(partPath)
			return apperr.Wrap(apperr.Internal, "sftp_read_failed", "failed to read remote file", copyErr)
		}
		if closeErr != nil {
			os.Remove(partPath)
			return apperr.Wrap(apperr.Internal, "sftp_local_flush_failed", "failed to flush local temp file", closeErr)
		}

		if req.PreserveMtime {
			if info, statErr := remote.Stat(); statErr == nil {
				mtime := info.ModTime()
				_ = os.Chtimes(partPath, mtime, mtime)
			}
		}

		if err := os.Rename(partPath, req.LocalPath); err != nil {
			os.Remove(partPath)
			return apperr.Wrap(apperr.Internal, "sftp_rename_failed", "failed to rename downloaded file into place", err)
		}
		return nil
	})
	return written, err
}

// SFTPStreamDownload copies remotePath's contents into w without
// materializing the file locally, for the pipeline engine's sftp_to_http
// and sftp_to_postgres flows (spec §4.7 "bounded memory").
func (m *Manager) SFTPStreamDownload(ctx context.Context, profileName, remotePath string, w io.Writer) (int64, error) {
	var written int64
	err := m.withSFTP(ctx, profileName, func(client *sftp.Client) error {
		remote, err := client.Open(remotePath)
		if err != nil {
			return apperr.Wrap(apperr.NotFound, "sftp_remote_missing", "failed to open remote file", err)
		}
		defer remote.Close()
		n, err := io.Copy(w, remote)
		written = n
		if err != nil {
			return apperr.Wrap(apperr.Internal, "sftp_read_failed", "failed to read remote file", err)
		}
		return nil
	})
	return written, err
}

// SFTPStreamUpload copies r's contents to remotePath without materializing
// a local file, for the pipeline engine's http_to_sftp and
// postgres_to_sftp flows.
func (m *Manager) SFTPStreamUpload(ctx context.Context, profileName, remotePath string, r io.Reader, overwrite, makeDirs bool) (int64, error) {
	var written int64
	err := m.withSFTP(ctx, profileName, func(client *sftp.Client) error {
		if !overwrite {
			if _, err := client.Stat(remotePath); err == nil {
				return apperr.New(apperr.Conflict, "sftp_exists", "remote file already exists; set overwrite=true").
					WithDetails("path", remotePath)
			}
		}
		if makeDirs {
			if err := client.MkdirAll(path.Dir(remotePath)); err != nil {
				return apperr.Wrap(apperr.Internal, "sftp_mkdir_failed", "failed to create remote parent directories", err)
			}
		}
		remote, err := client.Create(remotePath)
		if err != nil {
			return apperr.Wrap(apperr.Internal, "sftp_create_failed", "failed to create remote file", err)
		}
		defer remote.Close()
		n, err := io.Copy(remote, r)
		written = n
		if err != nil {
			return apperr.Wrap(apperr.Internal, "sftp_write_failed", "failed to write remote file", err)
		}
		return nil
	})
	return written, err
}

// withSFTP opens an SFTP subsystem channel on the pooled SSH session and
// closes it when fn returns, reusing the same single-flight-dialed client
// and busy lock as Exec.
func (m *Manager) withSFTP(ctx context.Context, profileName string, fn func(*sftp.Client) error) error {
	return m.withClient(ctx, profileName, func(client *ssh.Client) error {
		sc, err := sftp.NewClient(client)
		if err != nil {
			return apperr.Wrap(apperr.Retryable, "sftp_subsystem_failed", "failed to start sftp subsystem", err)
		}
		defer sc.Close()
		return fn(sc)
	})
}
