package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve(t *testing.T) {
	r := NewRecorder()
	r.Observe("deploy_challenge", 2, time.Now().Add(-3*time.Second), nil)
	r.Observe("clean_challenge", 1, time.Now(), errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.success.WithLabelValues("deploy_challenge")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.success.WithLabelValues("clean_challenge")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.challenges.WithLabelValues("deploy_challenge")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(r.duration.WithLabelValues("deploy_challenge")), 3.0)
}

func TestWriteTextfile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "textfile")
	r := NewRecorder()
	r.Observe("deploy_challenge", 1, time.Now(), nil)

	path, err := r.WriteTextfile(dir, "deploy_challenge")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "yk_acme_hook_deploy_challenge.prom"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, `yk_acme_hook_last_run_success{operation="deploy_challenge"} 1`)
	assert.True(t, strings.Contains(out, "# TYPE yk_acme_hook_last_run_timestamp_seconds gauge"))
}

func TestWriteTextfile_BadDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	_, err := NewRecorder().WriteTextfile(filepath.Join(file, "sub"), "deploy_challenge")
	assert.Error(t, err)
}
