package services

import (
	"context"
	"errors"
	"testing"

	"github.com/isdelr/access-panel-be/internal/models"
	"github.com/isdelr/access-panel-be/internal/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvisioner struct {
	got    []models.ProvisionRequest
	result models.ProvisionResult
	ctxErr error
}

func (f *fakeProvisioner) Provision(ctx context.Context, req models.ProvisionRequest) models.ProvisionResult {
	f.got = append(f.got, req)
	f.ctxErr = ctx.Err()
	return f.result
}

func TestCreateAccountDispatch(t *testing.T) {
	events := NewEventService(openTestDB(t), nil)
	prov := &fakeProvisioner{result: models.ProvisionResult{Success: true, Detail: "ok alice"}}
	svc := NewProvisionService(prov, events)

	res, err := svc.CreateAccount(context.Background(), "owner", CreateAccountRequest{AccountType: "SSH", V2RayVariant: "bogus", Username: "alice", Password: "pw"})
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = svc.CreateAccount(context.Background(), "owner", CreateAccountRequest{AccountType: "v2ray", V2RayVariant: "Trojan", Username: "alice", Password: "pw"})
	require.NoError(t, err)
	assert.True(t, res.Success)

	require.Len(t, prov.got, 2)
	assert.Equal(t, models.ProvisionRequest{AccountType: models.AccountTypeSSH, Username: "alice", Password: "pw"}, prov.got[0])
	assert.Equal(t, models.V2RayTrojan, prov.got[1].V2RayVariant)

	recent, err := events.GetRecentEvents("owner", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, models.EventProvisionSuccess, recent[0].Type)
	require.NotNil(t, recent[0].Username)
	assert.Equal(t, "owner", *recent[0].Username)
}

func TestCreateAccountValidation(t *testing.T) {
	prov := &fakeProvisioner{}
	svc := NewProvisionService(prov, nil)

	cases := map[string]CreateAccountRequest{
		"empty":            {},
		"unknown type":     {AccountType: "ftp", Username: "alice", Password: "pw"},
		"v2ray no variant": {AccountType: "v2ray", Username: "alice", Password: "pw"},
		"bad variant":      {AccountType: "v2ray", V2RayVariant: "socks", Username: "alice", Password: "pw"},
		"unsafe username":  {AccountType: "ssh", Username: "alice;reboot", Password: "pw"},
		"no password":      {AccountType: "ssh", Username: "alice"},
		"password newline": {AccountType: "ssh", Username: "alice", Password: "x\nroot:pwned"},
		"password CR":      {AccountType: "ssh", Username: "alice", Password: "x\rroot:pwned"},
		"password NUL":     {AccountType: "v2ray", V2RayVariant: "trojan", Username: "alice", Password: "x\x00y"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.CreateAccount(context.Background(), "owner", req)
			var ve *validator.ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
		})
	}
	assert.Empty(t, prov.got, "nothing provisioned for invalid requests")
}

func TestCreateAccountFailureIsResultNotError(t *testing.T) {
	events := NewEventService(openTestDB(t), nil)
	prov := &fakeProvisioner{result: models.ProvisionFailed("useradd: user 'alice' already exists")}
	svc := NewProvisionService(prov, events)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := svc.CreateAccount(ctx, "owner", CreateAccountRequest{AccountType: "ssh", Username: "alice", Password: "pw"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Detail, "already exists")
	assert.NoError(t, prov.ctxErr, "provisioning ignores caller cancellation")

	recent, err := events.GetRecentEvents("owner", 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, models.EventProvisionFail, recent[0].Type)
}

type restarterFunc func(ctx context.Context, name string) error

func (f restarterFunc) RestartContainer(ctx context.Context, name string) error { return f(ctx, name) }

func TestAuditedRestarter(t *testing.T) {
	events := NewEventService(openTestDB(t), nil)
	boom := errors.New("no such container")
	calls := 0
	r := AuditedRestarter{
		Restarter: restarterFunc(func(_ context.Context, name string) error {
			calls++
			if name == "missing" {
				return boom
			}
			return nil
		}),
		Events: events,
	}

	require.NoError(t, r.RestartContainer(context.Background(), "v2ray"))
	assert.ErrorIs(t, r.RestartContainer(context.Background(), "missing"), boom)
	assert.Equal(t, 2, calls)

	recent, err := events.GetRecentEvents("", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, models.EventProxyRestartFail, recent[0].Type)
	assert.Contains(t, recent[0].Message, "missing")
}
