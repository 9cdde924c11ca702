package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/isdelr/access-panel-be/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	stdin string
	argv  []string
}

// fakeRunner imitates useradd/chpasswd against an in-memory user table.
type fakeRunner struct {
	users map[string]string
	calls []call
}

func newFakeRunner(existing ...string) *fakeRunner {
	r := &fakeRunner{users: map[string]string{}}
	for _, u := range existing {
		r.users[u] = ""
	}
	return r
}

func (r *fakeRunner) Run(_ context.Context, stdin string, name string, args ...string) (string, error) {
	r.calls = append(r.calls, call{stdin: stdin, argv: append([]string{name}, args...)})
	switch name {
	case "useradd":
		user := args[len(args)-1]
		if _, ok := r.users[user]; ok {
			return "", fmt.Errorf("useradd: user '%s' already exists: exit status 9", user)
		}
		r.users[user] = ""
	case "chpasswd":
		user, pass, _ := strings.Cut(strings.TrimSpace(stdin), ":")
		r.users[user] = pass
	}
	return "", nil
}

type fakeRestarter struct {
	restarted []string
	err       error
}

func (f *fakeRestarter) RestartContainer(_ context.Context, name string) error {
	f.restarted = append(f.restarted, name)
	return f.err
}

func TestProvisionSSH(t *testing.T) {
	runner := newFakeRunner("bob")
	p := New(Options{Runner: runner})

	res := p.Provision(context.Background(), models.ProvisionRequest{AccountType: models.AccountTypeSSH, Username: "alice", Password: "s3cret"})
	require.True(t, res.Success, res.Detail)
	assert.Contains(t, res.Detail, "alice")
	assert.Contains(t, res.Detail, "s3cret")
	assert.Equal(t, "s3cret", runner.users["alice"])

	require.Len(t, runner.calls, 2)
	assert.Equal(t, []string{"useradd", "-m", "-s", "/bin/bash", "alice"}, runner.calls[0].argv)
	assert.Equal(t, []string{"chpasswd"}, runner.calls[1].argv)
	assert.NotContains(t, strings.Join(runner.calls[1].argv, " "), "s3cret", "password only on stdin")

	res = p.Provision(context.Background(), models.ProvisionRequest{AccountType: models.AccountTypeSSH, Username: "bob", Password: "pw"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Detail, "already exists")
}

func TestProvisionSSHPasswordFailure(t *testing.T) {
	p := New(Options{Runner: runnerFunc(func(_ context.Context, _ string, name string, _ ...string) (string, error) {
		if name == "chpasswd" {
			return "", errors.New("chpasswd: permission denied")
		}
		return "", nil
	})})
	res := p.Provision(context.Background(), models.ProvisionRequest{AccountType: models.AccountTypeSSH, Username: "alice", Password: "pw"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Detail, "permission denied")
}

type runnerFunc func(ctx context.Context, stdin string, name string, args ...string) (string, error)

func (f runnerFunc) Run(ctx context.Context, stdin string, name string, args ...string) (string, error) {
	return f(ctx, stdin, name, args...)
}

func TestProvisionV2RayVariants(t *testing.T) {
	vmess := writeConfig(t, vmessConfig)
	trojan := writeConfig(t, `{"inbounds":[{"protocol":"trojan","settings":{"clients":[{"password":"old","email":"old"}]}}]}`)
	xray := writeConfig(t, `{"inbounds":[{"protocol":"dokodemo-door"},{"protocol":"vless","settings":{"clients":[],"decryption":"none"}}]}`)
	restarter := &fakeRestarter{}

	p := New(Options{
		Runner:    newFakeRunner(),
		VMess:     ProxyTarget{ConfigPath: vmess, Container: "v2ray"},
		Trojan:    ProxyTarget{ConfigPath: trojan},
		Xray:      ProxyTarget{ConfigPath: xray, Container: "xray"},
		Restarter: restarter,
	})

	for _, variant := range models.V2RayVariants {
		res := p.Provision(context.Background(), models.ProvisionRequest{
			AccountType: models.AccountTypeV2Ray, V2RayVariant: variant, Username: "alice", Password: "pw",
		})
		require.True(t, res.Success, "%s: %s", variant, res.Detail)
		assert.Contains(t, res.Detail, "alice")
	}

	read := func(path string) []byte {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		return data
	}
	assert.Len(t, clientsOf(t, read(vmess), 0), 3)
	assert.Len(t, clientsOf(t, read(trojan), 0), 2)
	xrayClients := clientsOf(t, read(xray), 1)
	require.Len(t, xrayClients, 1)
	assert.JSONEq(t, `{"id":"alice","email":"alice","flow":"xtls-rprx-vision","level":0}`, string(xrayClients[0]))

	assert.Equal(t, []string{"v2ray", "xray"}, restarter.restarted)
}

func TestProvisionRestartFailureStillSucceeds(t *testing.T) {
	path := writeConfig(t, vmessConfig)
	p := New(Options{
		VMess:     ProxyTarget{ConfigPath: path, Container: "v2ray"},
		Restarter: &fakeRestarter{err: errors.New("no such container")},
	})

	res := p.Provision(context.Background(), models.ProvisionRequest{AccountType: models.AccountTypeV2Ray, V2RayVariant: models.V2RayVMess, Username: "alice", Password: "pw"})
	assert.True(t, res.Success)
	assert.Contains(t, res.Detail, "no such container")
}

func TestProvisionFailures(t *testing.T) {
	p := New(Options{Trojan: ProxyTarget{ConfigPath: writeConfig(t, `not json`)}})

	cases := map[string]models.ProvisionRequest{
		"unknown type":     {AccountType: "ftp", Username: "alice"},
		"missing variant":  {AccountType: models.AccountTypeV2Ray, Username: "alice"},
		"unconfigured":     {AccountType: models.AccountTypeV2Ray, V2RayVariant: models.V2RayVMess, Username: "alice"},
		"malformed config": {AccountType: models.AccountTypeV2Ray, V2RayVariant: models.V2RayTrojan, Username: "alice"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			res := p.Provision(context.Background(), req)
			assert.False(t, res.Success)
			assert.NotEmpty(t, res.Detail)
		})
	}
}

func TestProvisionRecoversFromPanic(t *testing.T) {
	p := New(Options{Runner: runnerFunc(func(context.Context, string, string, ...string) (string, error) {
		panic("boom")
	})})
	res := p.Provision(context.Background(), models.ProvisionRequest{AccountType: models.AccountTypeSSH, Username: "alice", Password: "pw"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Detail, "boom")
}

func TestProvisionSSHRejectsMultiLinePassword(t *testing.T) {
	runner := newFakeRunner()
	p := New(Options{Runner: runner})

	for _, pw := range []string{"x\nroot:pwned", "x\rroot:pwned", "x\x00"} {
		res := p.Provision(context.Background(), models.ProvisionRequest{AccountType: models.AccountTypeSSH, Username: "alice", Password: pw})
		assert.False(t, res.Success)
		assert.Contains(t, res.Detail, "Invalid SSH password")
	}
	res := p.Provision(context.Background(), models.ProvisionRequest{AccountType: models.AccountTypeSSH, Username: "root\nx", Password: "pw"})
	assert.False(t, res.Success)

	assert.Empty(t, runner.calls, "nothing reaches useradd or chpasswd")
	_, ok := runner.users["root"]
	assert.False(t, ok)
}
