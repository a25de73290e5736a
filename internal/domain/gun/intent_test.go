package gun

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nerfbot-server-go/internal/platform/errors"
)

func TestParseFireCommand(t *testing.T) {
	x, y, shots, err := ParseFireCommand("!fire 10 -20 3")
	require.NoError(t, err)
	assert.Equal(t, []int{10, -20, 3}, []int{x, y, shots})

	x, y, shots, err = ParseFireCommand("  !FIRE   0 0 0 ")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 0}, []int{x, y, shots})

	for _, bad := range []string{"", "!fire", "!fire 1 2", "!fire a b c", "!shoot 1 2 3", "!fire 1 2 3 4", "!fire 1 2 -1"} {
		_, _, _, err := ParseFireCommand(bad)
		require.Error(t, err, bad)
		assert.True(t, errors.IsKind(err, errors.KindValidation), bad)
		assert.Contains(t, err.Error(), "Usage: !fire x y z")
	}
}

func TestRemainingJSON(t *testing.T) {
	raw, err := json.Marshal(FireResult{Remaining: Unlimited()})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"remaining":"unlimited"`)

	raw, err = json.Marshal(FireResult{Remaining: Credits(15)})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"remaining":15`)
	assert.Equal(t, "15", Credits(15).String())
}

func TestIntentName(t *testing.T) {
	assert.Equal(t, "Alice", FireIntent{IdentityID: "alice", DisplayName: "Alice"}.Name())
	assert.Equal(t, "bob", FireIntent{IdentityID: "bob"}.Name())
	assert.NotEmpty(t, FireIntent{}.withID().ID)
	assert.Equal(t, "keep", FireIntent{ID: "keep"}.withID().ID)
}
