package state

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
)

// encodeState serializes a state and returns the payload with its checksum.
func encodeState(state *core.WorkflowState) ([]byte, string, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, "", fmt.Errorf("marshaling state: %w", err)
	}
	return data, checksum(data), nil
}

// decodeState verifies the checksum and unmarshals the payload. The sum is
// taken over the compact form, so envelopes that re-indent the payload
// still verify.
func decodeState(sessionID string, data []byte, sum string) (*core.WorkflowState, error) {
	var compact bytes.Buffer
	if err := json.Compact(&compact, data); err != nil {
		return nil, core.ErrState(core.CodeStateCorrupted,
			fmt.Sprintf("checkpoint for session %s is not valid JSON: %v", sessionID, err))
	}
	if sum != "" && checksum(compact.Bytes()) != sum {
		return nil, core.ErrState(core.CodeStateCorrupted,
			fmt.Sprintf("checkpoint for session %s failed checksum verification", sessionID))
	}
	var state core.WorkflowState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, core.ErrState(core.CodeStateCorrupted,
			fmt.Sprintf("checkpoint for session %s is not valid JSON: %v", sessionID, err))
	}
	if state.Version > core.CurrentStateVersion {
		return nil, core.ErrState(core.CodeStateCorrupted,
			fmt.Sprintf("checkpoint version %d is newer than supported version %d", state.Version, core.CurrentStateVersion))
	}
	return &state, nil
}

func checksum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
