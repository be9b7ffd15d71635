package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/shiftpay-backend/pkg/errors"
)

func TestAllocateProRata(t *testing.T) {
	out, err := Allocate(1000, Portions{WorkerCents: 7500, PlatformCents: 1500, AgencyCents: 1000})
	require.NoError(t, err)
	assert.Equal(t, Portions{WorkerCents: 750, PlatformCents: 150, AgencyCents: 100}, out)
}

func TestAllocateDistributesRemainder(t *testing.T) {
	available := Portions{WorkerCents: 3, PlatformCents: 3, AgencyCents: 3}
	out, err := Allocate(4, available)
	require.NoError(t, err)
	assert.Equal(t, int64(4), out.Total())
	assert.Equal(t, int64(2), out.WorkerCents)
	assert.Equal(t, int64(1), out.PlatformCents)
	assert.Equal(t, int64(1), out.AgencyCents)
}

func TestAllocateNeverExceedsPortion(t *testing.T) {
	available := Portions{WorkerCents: 1, PlatformCents: 0, AgencyCents: 97}
	for amount := int64(1); amount <= available.Total(); amount++ {
		out, err := Allocate(amount, available)
		require.NoError(t, err)
		require.Equal(t, amount, out.Total())
		require.LessOrEqual(t, out.WorkerCents, available.WorkerCents)
		require.LessOrEqual(t, out.PlatformCents, available.PlatformCents)
		require.LessOrEqual(t, out.AgencyCents, available.AgencyCents)
	}
}

func TestAllocateFullAmountReturnsAvailable(t *testing.T) {
	available := Portions{WorkerCents: 10, PlatformCents: 5, AgencyCents: 2}
	out, err := Allocate(17, available)
	require.NoError(t, err)
	assert.Equal(t, available, out)
}

func TestAllocateRejectsOverdraw(t *testing.T) {
	_, err := Allocate(18, Portions{WorkerCents: 10, PlatformCents: 5, AgencyCents: 2})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientBalance))

	_, err = Allocate(0, Portions{WorkerCents: 10})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidAmount))
}
