package config

import (
	"fmt"
	"io"
	"strings"
)

// RenderEffective writes the resolved configuration as an annotated TOML
// summary to w, after all four override layers have been applied. It powers
// the "config show" command.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", r.ConfigPath)

	ew.printf("# auth\n")
	ew.printf("client_secret_file = %q\n", r.ClientSecretFile)
	ew.printf("user               = %q\n", r.User)
	ew.printf("scopes             = [%s]\n", joinQuoted(r.Scopes))
	ew.printf("grant              = %q\n", r.Grant)
	ew.printf("revoke_url         = %q\n\n", r.RevokeURL)

	ew.printf("# api\n")
	ew.printf("api_base_url   = %q\n", r.APIBaseURL)
	ew.printf("nested_workers = %d\n\n", r.NestedWorkers)

	ew.printf("# storage\n")
	ew.printf("token_store = %q\n", r.TokenStore)
	ew.printf("token_dir   = %q\n", r.TokenDir)
	ew.printf("token_db    = %q\n\n", r.TokenDB)

	ew.printf("# logging\n")
	ew.printf("log_level  = %q\n", r.LogLevel)
	ew.printf("log_format = %q\n\n", r.LogFormat)

	ew.printf("# network\n")
	ew.printf("connect_timeout = %q\n", r.ConnectTimeout.String())
	ew.printf("data_timeout    = %q\n", r.DataTimeout.String())

	if r.UserAgent != "" {
		ew.printf("user_agent      = %q\n", r.UserAgent)
	}

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}

	return strings.Join(quoted, ", ")
}
