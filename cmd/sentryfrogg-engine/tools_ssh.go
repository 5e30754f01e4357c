package main

import (
	"context"

	"github.com/sentryfrogg/engine/internal/dispatcher"
	"github.com/sentryfrogg/engine/internal/platform/apperr"
	"github.com/sentryfrogg/engine/internal/sshmanager"
)

func registerSSHTools(d *dispatcher.Dispatcher, ssh *sshmanager.Manager) {
	d.Register("ssh", func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		act, err := requireAction(args)
		if err != nil {
			return nil, err
		}

		switch act {
		case "profile_upsert":
			var req struct {
				Name    string
				Data    map[string]interface{}
				Secrets map[string]string
			}
			if err := decode(args, &req); err != nil {
				return nil, err
			}
			prof, err := ssh.ProfileUpsert(req.Name, req.Data, req.Secrets)
			if err != nil {
				return nil, err
			}
			return encode(prof)

		case "profile_get":
			prof, err := ssh.ProfileGet(stringArg(args, "name"))
			if err != nil {
				return nil, err
			}
			return encode(prof)

		case "profile_list":
			list, err := ssh.ProfileList()
			if err != nil {
				return nil, err
			}
			return encode(list)

		case "profile_delete":
			if err := ssh.ProfileDelete(stringArg(args, "name")); err != nil {
				return nil, err
			}
			return encode(nil)

		case "profile_test":
			if err := ssh.ProfileTest(ctx, stringArg(args, "name")); err != nil {
				return nil, err
			}
			return encode(map[string]interface{}{"ok": true})

		case "authorized_keys_add":
			res, err := ssh.AuthorizedKeysAdd(ctx, stringArg(args, "profile_name"), stringArg(args, "key_line"))
			if err != nil {
				return nil, err
			}
			return encode(res)

		case "exec":
			var req sshmanager.ExecRequest
			if err := decode(args, &req); err != nil {
				return nil, err
			}
			res, err := ssh.Exec(ctx, req)
			if err != nil {
				return nil, err
			}
			return encode(res)

		case "batch":
			var req struct {
				ProfileName string
				Commands    []sshmanager.ExecRequest
				StopOnError bool
			}
			if err := decode(args, &req); err != nil {
				return nil, err
			}
			res, err := ssh.Batch(ctx, req.ProfileName, req.Commands, req.StopOnError)
			if err != nil {
				return nil, err
			}
			return encode(map[string]interface{}{"results": res})

		case "system_info":
			info, err := ssh.SystemInfo(ctx, stringArg(args, "profile_name"))
			if err != nil {
				return nil, err
			}
			return encode(info)

		case "check_host":
			ok, err := ssh.CheckHost(ctx, stringArg(args, "profile_name"))
			return encode(map[string]interface{}{"reachable": ok, "error": errString(err)})

		case "sftp_list":
			entries, err := ssh.SFTPList(ctx, stringArg(args, "profile_name"), stringArg(args, "remote_path"))
			if err != nil {
				return nil, err
			}
			return encode(map[string]interface{}{"entries": entries})

		case "sftp_upload":
			var req sshmanager.SFTPUploadRequest
			if err := decode(args, &req); err != nil {
				return nil, err
			}
			n, err := ssh.SFTPUpload(ctx, req)
			if err != nil {
				return nil, err
			}
			return encode(map[string]interface{}{"bytes_written": n})

		case "sftp_download":
			var req sshmanager.SFTPDownloadRequest
			if err := decode(args, &req); err != nil {
				return nil, err
			}
			n, err := ssh.SFTPDownload(ctx, req)
			if err != nil {
				return nil, err
			}
			return encode(map[string]interface{}{"bytes_written": n})

		default:
			return nil, apperr.New(apperr.InvalidParams, "unknown_action", "ssh has no such action").WithDetails("action", act)
		}
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
