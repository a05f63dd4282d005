package wire

import (
	"encoding/json"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeCarriesOnlyItsPayload(t *testing.T) {
	t.Parallel()

	env := NewCommandMsg(Command{
		ID:        3,
		ElementID: "e1",
		Name:      CommandSeekRelative,
		Params:    &CommandParams{Delta: lo.ToPtr(-30.0)},
	})
	data, err := json.Marshal(env)
	require.NoError(t, err)

	// Unused payload slots stay off the wire entirely.
	var keys map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &keys))
	require.Len(t, keys, 2)
	require.Contains(t, keys, "type")
	require.Contains(t, keys, "command")

	var decoded Envelope
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, MsgCommand, decoded.Type)
	require.NotNil(t, decoded.Command)
	require.Equal(t, CommandSeekRelative, decoded.Command.Name)
	require.NotNil(t, decoded.Command.Params.Delta)
	require.Equal(t, -30.0, *decoded.Command.Params.Delta)
	require.Nil(t, decoded.Update)
	require.Nil(t, decoded.Sessions)
}

func TestElementUpdateDurationDistinguishesUnknownFromZero(t *testing.T) {
	t.Parallel()

	unknown, err := json.Marshal(NewUpdateMsg(ElementUpdate{ElementID: "e1"}))
	require.NoError(t, err)
	require.NotContains(t, string(unknown), "duration")

	known, err := json.Marshal(NewUpdateMsg(ElementUpdate{ElementID: "e1", Duration: lo.ToPtr(0.0)}))
	require.NoError(t, err)
	require.Contains(t, string(known), `"duration":0`)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(known, &decoded))
	require.NotNil(t, decoded.Update.Duration)
	require.Zero(t, *decoded.Update.Duration)
}
