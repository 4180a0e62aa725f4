/*
Package filesystem opens and stats files with retry on NFS stale file
handle errors (ESTALE).

Operations take an afero.Fs so the same code path serves the real disk in
the savezip CLI and in-memory filesystems in tests:

	fs := afero.NewOsFs()
	f, err := filesystem.OpenWithRetry(fs, "/mnt/nfs/clip.mp4", filesystem.DefaultRetryConfig())
	if err != nil {
		return err
	}
	defer f.Close()

Only ESTALE is retried, with exponential backoff capped at MaxBackoff. Any
other error is returned at once. Retries and final failures are counted in
convert_web_filesystem_retry_attempts_total and
convert_web_filesystem_retry_failures_total.
*/
package filesystem
