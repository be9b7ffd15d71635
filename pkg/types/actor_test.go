package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/shiftpay-backend/pkg/enums"
)

func TestActorValidate(t *testing.T) {
	require.NoError(t, AdminActor("admin-1").Validate())
	require.NoError(t, SystemActor("cron").Validate())
	require.Error(t, Actor{Kind: enums.ActorKindAdmin}.Validate())
	require.Error(t, Actor{Kind: "guest", ID: "x"}.Validate())
}

func TestActorIs(t *testing.T) {
	actor := ServiceActor("shifts")
	assert.True(t, actor.Is(enums.ActorKindAdmin, enums.ActorKindService))
	assert.False(t, actor.Is(enums.ActorKindSystem))
	assert.Equal(t, "service:shifts", actor.String())
}
