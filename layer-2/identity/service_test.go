package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"

	"github.com/agritrace/agritracechain/layer-2/apperror"
	"github.com/agritrace/agritracechain/layer-2/repository"
	"github.com/agritrace/agritracechain/layer-2/repository/models"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	repo := repository.NewRepository(repository.Options{
		Dialector:    sqlite.Open("file::memory:"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	t.Cleanup(func() { _ = repo.Close() })
	return NewService(repo)
}

func intPtr(v int) *int { return &v }

func TestResolveRoleForEveryRole(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	inputs := []RegisterInput{
		{AddressWallet: "0x0000000000000000000000000000000000000a00", Role: intPtr(0), Name: "Farm", Owner: "Dana"},
		{AddressWallet: "0x0000000000000000000000000000000000000a01", Role: intPtr(1), Name: "Trucks", ContactNumber: "123", Vehicles: []string{"V1"}},
		{AddressWallet: "0x0000000000000000000000000000000000000a02", Role: intPtr(2), Name: "Owner", Provider: "Farm"},
		{AddressWallet: "0x0000000000000000000000000000000000000a03", Role: intPtr(3), Name: "Shop", Address: "1 Road"},
	}
	for _, in := range inputs {
		_, err := svc.Register(ctx, in)
		require.NoError(t, err)
	}

	wantCollections := []string{"Farm", "Logistics", "Product", "Store"}
	for i, in := range inputs {
		res, err := svc.ResolveRole(ctx, in.AddressWallet)
		require.NoError(t, err)
		assert.False(t, res.Available)
		assert.Equal(t, models.Role(i), res.Role)
		assert.Equal(t, wantCollections[i], res.Collection)
	}

	res, err := svc.ResolveRole(ctx, "0x0000000000000000000000000000000000000fff")
	require.NoError(t, err)
	assert.True(t, res.Available)
}

func TestResolveRoleRequiresAddress(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.ResolveRole(context.Background(), "")
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
}

func TestRegisterDuplicateWalletAcrossRoles(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterInput{AddressWallet: "0x00000000000000000000000000000000000000Aa", Role: intPtr(0), Name: "Farm"})
	require.NoError(t, err)

	_, err = svc.Register(ctx, RegisterInput{AddressWallet: "0x00000000000000000000000000000000000000aA", Role: intPtr(3), Name: "Shop"})
	assert.Equal(t, apperror.KindConflict, apperror.KindOf(err))
}

func TestRegisterValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   RegisterInput
	}{
		{"missing role", RegisterInput{AddressWallet: "0x0000000000000000000000000000000000000001", Name: "x"}},
		{"role out of range", RegisterInput{AddressWallet: "0x0000000000000000000000000000000000000001", Name: "x", Role: intPtr(4)}},
		{"bad address", RegisterInput{AddressWallet: "wallet", Name: "x", Role: intPtr(0)}},
		{"missing name", RegisterInput{AddressWallet: "0x0000000000000000000000000000000000000001", Role: intPtr(0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tt.in)
			assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
		})
	}
}

func TestGetReturnsOnlyMatchingProfile(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterInput{
		AddressWallet: "0x0000000000000000000000000000000000000b01",
		Role:          intPtr(1),
		Name:          "Trucks",
		ContactNumber: "555",
		Vehicles:      []string{"51C-1", "51C-2"},
		Owner:         "ignored",
	})
	require.NoError(t, err)

	got, err := svc.Get(ctx, "0x0000000000000000000000000000000000000B01")
	require.NoError(t, err)
	require.NotNil(t, got.Logistics)
	assert.Nil(t, got.Farm)
	assert.JSONEq(t, `["51C-1","51C-2"]`, string(got.Logistics.Vehicles))

	_, err = svc.Get(ctx, "0x0000000000000000000000000000000000000b02")
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
}
