package hook

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"
	logrtesting "github.com/go-logr/logr/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuriy-kovalchuk/yk-acme-hook/internal/challenge"
	"github.com/yuriy-kovalchuk/yk-acme-hook/internal/config"
	"github.com/yuriy-kovalchuk/yk-acme-hook/internal/dns"
	"github.com/yuriy-kovalchuk/yk-acme-hook/internal/testutil"
)

const testToken = "test-token"

func newTestConfig(t *testing.T, zones ...string) (*config.Config, *testutil.FakeLinode) {
	t.Helper()
	fake, srv := testutil.NewFakeLinode(t, testToken, zones...)
	nameserver := testutil.StartDNSServer(t, fake.TXT)

	cfg := config.Default()
	cfg.Settings = map[string]string{"api_token": testToken, "base_url": srv.URL + "/v4"}
	cfg.Propagation.Nameservers = []string{nameserver}
	cfg.Propagation.Timeout = 2 * time.Second
	cfg.Propagation.Interval = 50 * time.Millisecond
	return cfg, fake
}

func execute(t *testing.T, opts Options, args ...string) (string, error) {
	t.Helper()
	if opts.Log.GetSink() == nil {
		opts.Log = logrtesting.NewTestLogger(t)
	}
	var out bytes.Buffer
	cmd := NewRootCommand(opts)
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// failingFactory fails the test's assertions if a solver is ever built.
func failingFactory(built *bool) SolverFactory {
	return func(*config.Config, logr.Logger) (*challenge.Solver, error) {
		*built = true
		return nil, errors.New("solver must not be built")
	}
}

func TestParseChallenges(t *testing.T) {
	challenges, err := ParseChallenges([]string{
		"example.com", "tok1", "value1",
		"*.example.com", "tok2", "-value2",
	})
	require.NoError(t, err)
	require.Len(t, challenges, 2)
	assert.Equal(t, challenge.Challenge{Domain: "example.com", TokenFilename: "tok1", Value: "value1"}, challenges[0])
	assert.Equal(t, "-value2", challenges[1].Value)

	for _, args := range [][]string{
		nil,
		{"example.com", "tok"},
		{"example.com", "tok", "value", "extra"},
		{"", "tok", "value"},
		{"example.com", "tok", ""},
	} {
		_, err := ParseChallenges(args)
		assert.Error(t, err, "args %v", args)
	}
}

func TestDeployThenClean_LeavesNoRecord(t *testing.T) {
	cfg, fake := newTestConfig(t, "example.com")
	opts := Options{Config: cfg}

	_, err := execute(t, opts, OpDeployChallenge, "app.example.com", "tokenfile", "challenge-value")
	require.NoError(t, err)

	records := fake.Records("example.com")
	require.Len(t, records, 1)
	assert.Equal(t, "TXT", records[0].Type)
	assert.Equal(t, "_acme-challenge.app", records[0].Name)
	assert.Equal(t, "challenge-value", records[0].Target)
	assert.Equal(t, 300, records[0].TTLSec)

	_, err = execute(t, opts, OpCleanChallenge, "app.example.com", "tokenfile", "challenge-value")
	require.NoError(t, err)
	assert.Empty(t, fake.Records("example.com"))
	assert.Empty(t, fake.TXT("_acme-challenge.app.example.com"))
}

func TestDeploy_HookChain(t *testing.T) {
	cfg, fake := newTestConfig(t, "example.com", "example.org")
	opts := Options{Config: cfg}

	args := []string{
		OpDeployChallenge,
		"example.com", "t1", "apex",
		"*.example.com", "t2", "-wildcard",
		"www.example.org", "t3", "org",
	}
	_, err := execute(t, opts, args...)
	require.NoError(t, err)

	assert.Equal(t, []string{"-wildcard", "apex"}, fake.TXT("_acme-challenge.example.com"))
	assert.Equal(t, []string{"org"}, fake.TXT("_acme-challenge.www.example.org"))

	args[0] = OpCleanChallenge
	_, err = execute(t, opts, args...)
	require.NoError(t, err)
	assert.Empty(t, fake.Records("example.com"))
	assert.Empty(t, fake.Records("example.org"))
}

func TestDeploy_Idempotent(t *testing.T) {
	cfg, fake := newTestConfig(t, "example.com")
	opts := Options{Config: cfg}

	for i := 0; i < 2; i++ {
		_, err := execute(t, opts, OpDeployChallenge, "example.com", "tok", "value")
		require.NoError(t, err)
	}
	assert.Len(t, fake.Records("example.com"), 1)
}

func TestDeploy_PropagationTimeout(t *testing.T) {
	cfg, fake := newTestConfig(t, "example.com")
	// A nameserver that never serves the record.
	cfg.Propagation.Nameservers = []string{testutil.StartDNSServer(t, func(string) []string { return nil })}
	cfg.Propagation.Timeout = 300 * time.Millisecond

	_, err := execute(t, Options{Config: cfg}, OpDeployChallenge, "example.com", "tok", "value")
	require.Error(t, err)
	assert.Contains(t, err.Error(), OpDeployChallenge)
	assert.Empty(t, fake.Records("example.com"), "a failed deploy removes its records")
}

func TestDeploy_PropagationDisabled(t *testing.T) {
	cfg, fake := newTestConfig(t, "example.com")
	cfg.Propagation.Disabled = true
	cfg.Propagation.Nameservers = nil

	_, err := execute(t, Options{Config: cfg}, OpDeployChallenge, "example.com", "tok", "value")
	require.NoError(t, err)
	assert.Len(t, fake.Records("example.com"), 1)
}

func TestDeploy_UnknownZone(t *testing.T) {
	cfg, fake := newTestConfig(t, "example.com")

	_, err := execute(t, Options{Config: cfg}, OpDeployChallenge, "example.net", "tok", "value")
	require.Error(t, err)
	assert.True(t, errors.Is(err, dns.ErrZoneNotFound))
	assert.Empty(t, fake.Records("example.com"))
}

func TestDeploy_PinnedZoneMustContainDomain(t *testing.T) {
	cfg, fake := newTestConfig(t, "example.com", "example.org")
	cfg.Propagation.Disabled = true
	cfg.Zones = map[string]string{"*.example.com": "example.org"}

	_, err := execute(t, Options{Config: cfg}, OpDeployChallenge, "example.com", "tok", "value")
	require.Error(t, err)
	assert.True(t, errors.Is(err, dns.ErrZoneNotFound))
	assert.Empty(t, fake.Records("example.com"))
	assert.Empty(t, fake.Records("example.org"))
}

func TestDeploy_BadToken(t *testing.T) {
	cfg, _ := newTestConfig(t, "example.com")
	cfg.Settings["api_token"] = "wrong"

	_, err := execute(t, Options{Config: cfg}, OpDeployChallenge, "example.com", "tok", "value")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid Token")
}

func TestDeploy_MissingToken(t *testing.T) {
	cfg, fake := newTestConfig(t, "example.com")
	delete(cfg.Settings, "api_token")

	_, err := execute(t, Options{Config: cfg}, OpDeployChallenge, "example.com", "tok", "value")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_token")
	assert.Empty(t, fake.Calls())
}

func TestClean_NonExistentRecordFailsCleanly(t *testing.T) {
	cfg, _ := newTestConfig(t, "example.com")

	_, err := execute(t, Options{Config: cfg}, OpCleanChallenge, "example.com", "tok", "never-deployed")
	require.Error(t, err)
	assert.True(t, errors.Is(err, dns.ErrRecordNotFound))
}

func TestChallenge_BadArity(t *testing.T) {
	var built bool
	opts := Options{Config: config.Default(), NewSolver: failingFactory(&built)}

	_, err := execute(t, opts, OpDeployChallenge, "example.com", "tok")
	assert.Error(t, err)
	_, err = execute(t, opts, OpCleanChallenge)
	assert.Error(t, err)
	assert.False(t, built)
}

func TestIgnoredOperations(t *testing.T) {
	var built bool
	cfg := config.Default()
	cfg.Metrics.TextfileDir = filepath.Join(t.TempDir(), "metrics")
	opts := Options{Config: cfg, NewSolver: failingFactory(&built)}

	cases := [][]string{
		{},
		{"startup_hook"},
		{"sync_cert", "example.com", "key", "cert", "fullchain", "chain"},
		{"generate_csr", "example.com", "/certs", "-----BEGIN CERTIFICATE REQUEST-----"},
		{"deploy_ocsp", "example.com", "ocsp.der", "1700000000"},
		{"this_hook_is_useless"},
		{"some_future_hook", "--unknown-flag", "-x"},
		{OpDeployCert, "example.com", "key.pem", "cert.pem", "fullchain.pem", "chain.pem", "1700000000"},
		{OpDeployCert},
		{OpUnchangedCert, "example.com", "key.pem", "cert.pem", "fullchain.pem", "chain.pem"},
		{OpInvalidChallenge, "example.com", `{"type":"urn:ietf:params:acme:error:unauthorized"}`},
		{OpRequestFailure, "500", "Internal Server Error", "POST", "headers"},
		{OpExitHook},
		{OpExitHook, "ERROR"},
	}
	for _, args := range cases {
		out, err := execute(t, opts, args...)
		assert.NoError(t, err, "args %v", args)
		assert.Empty(t, out, "args %v", args)
	}
	assert.False(t, built, "ignored operations must not touch the provider")
	_, err := os.Stat(cfg.Metrics.TextfileDir)
	assert.True(t, os.IsNotExist(err), "ignored operations must not write metrics")
}

func TestHelpAndVersion(t *testing.T) {
	opts := Options{Config: config.Default(), Version: "v1.2.3"}

	out, err := execute(t, opts, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, OpDeployChallenge)

	out, err = execute(t, opts, "--version")
	require.NoError(t, err)
	assert.Equal(t, "v1.2.3\n", out)
}

func TestMetricsWritten(t *testing.T) {
	cfg, _ := newTestConfig(t, "example.com")
	cfg.Metrics.TextfileDir = t.TempDir()
	opts := Options{Config: cfg}

	_, err := execute(t, opts, OpCleanChallenge, "example.com", "tok", "missing")
	require.Error(t, err)

	data, err := os.ReadFile(filepath.Join(cfg.Metrics.TextfileDir, "yk_acme_hook_clean_challenge.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `yk_acme_hook_last_run_success{operation="clean_challenge"} 0`)
	assert.Contains(t, string(data), `yk_acme_hook_last_run_challenges{operation="clean_challenge"} 1`)
}
