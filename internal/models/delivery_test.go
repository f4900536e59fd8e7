package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentifiers_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Identifiers
		wantErr bool
	}{
		{name: "single string", input: `"5511999990000"`, want: Identifiers{"5511999990000"}},
		{name: "array", input: `["a", "b"]`, want: Identifiers{"a", "b"}},
		{name: "array with blanks and nulls", input: `["a", "", null]`, want: Identifiers{"a", "", ""}},
		{name: "bare number", input: `5511999990000`, want: Identifiers{"5511999990000"}},
		{name: "null", input: `null`, want: nil},
		{name: "empty array", input: `[]`, want: Identifiers{}},
		{name: "object rejected", input: `{"x":1}`, wantErr: true},
		{name: "nested array rejected", input: `[["a"]]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ids Identifiers
			err := json.Unmarshal([]byte(tt.input), &ids)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestSendRequest_DecodesFallbackList(t *testing.T) {
	body := `{
		"type": "individual",
		"number": "5511999990000",
		"message": "hello",
		"fallbackList": [
			{"type": "group", "number": "120363000000000000"},
			{"type": "individual", "number": ["5511888880000", ""]},
			{"type": "channel", "number": "x"}
		]
	}`

	var req SendRequest
	require.NoError(t, json.Unmarshal([]byte(body), &req))
	require.Len(t, req.FallbackList, 3)

	assert.Equal(t, TargetGroup, req.FallbackList[0].TargetType)
	assert.Equal(t, Identifiers{"120363000000000000"}, req.FallbackList[0].Identifiers)
	assert.Equal(t, Identifiers{"5511888880000", ""}, req.FallbackList[1].Identifiers)
	assert.False(t, req.FallbackList[2].TargetType.Valid())
}

func TestFallbackTarget_HasIdentifier(t *testing.T) {
	assert.False(t, FallbackTarget{TargetType: TargetIndividual}.HasIdentifier())
	assert.False(t, FallbackTarget{Identifiers: Identifiers{"", "  "}}.HasIdentifier())
	assert.True(t, FallbackTarget{Identifiers: Identifiers{"", "x"}}.HasIdentifier())
}

func TestTransportState_String(t *testing.T) {
	assert.Equal(t, "initializing", StateInitializing.String())
	assert.Equal(t, "awaiting_authentication", StateAwaitingAuthentication.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "unknown", TransportState(42).String())

	out, err := json.Marshal(map[string]TransportState{"state": StateReady})
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"ready"}`, string(out))
}
