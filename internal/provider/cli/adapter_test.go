package cli

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wombat2006/techdev-sub004/internal/provider"
)

// writeScript writes an executable shell script that ignores argv, drains
// stdin, and prints body. The adapter always prepends "--model <name>" to
// argv, so a fixture script must not depend on argument position.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a posix shell")
	}
	path := filepath.Join(t.TempDir(), "fake-cli")
	script := "#!/bin/sh\ncat >/dev/null\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestAdapterSendSuccess(t *testing.T) {
	path := writeScript(t, `echo '{"content":"use canary releases","input_tokens":3,"output_tokens":2}'`)
	a := New("p1", "vendorA", "local-model", path)

	resp, err := a.Send(context.Background(), provider.Request{
		Messages: []provider.Message{{Role: "user", Content: "how should we roll this out"}},
	}, provider.Options{})
	require.NoError(t, err)
	require.Equal(t, "use canary releases", resp.Content)
	require.Equal(t, 3, resp.Tokens.Input)
}

func TestAdapterSendNonJSONOutputFallsBackToRawContent(t *testing.T) {
	path := writeScript(t, `printf 'plain text answer'`)
	a := New("p1", "vendorA", "local-model", path)

	resp, err := a.Send(context.Background(), provider.Request{
		Messages: []provider.Message{{Role: "user", Content: "hi"}},
	}, provider.Options{})
	require.NoError(t, err)
	require.Equal(t, "plain text answer", resp.Content)
}

func TestAdapterSendCommandFailureClassifiesFatal(t *testing.T) {
	path := writeScript(t, `exit 1`)
	a := New("p1", "vendorA", "local-model", path)

	_, err := a.Send(context.Background(), provider.Request{
		Messages: []provider.Message{{Role: "user", Content: "hi"}},
	}, provider.Options{})
	require.Error(t, err)

	ce := a.ClassifyError(err)
	require.Equal(t, provider.ErrFatal, ce.Class)
}
