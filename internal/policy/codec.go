package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/hiepyeuh/nevron/internal/agent"
)

// #region dropped-entry

// DroppedEntry records a persisted row rejected during decoding.
type DroppedEntry struct {
	State  string
	Reason string
}

// #endregion dropped-entry

// #region encode

// encodeTable renders the named form: state → action → value.
func encodeTable(actions []agent.Action, table QTable) ([]byte, error) {
	named := make(map[string]map[string]float64, len(table))
	for state, row := range table {
		if len(row) != len(actions) {
			return nil, fmt.Errorf("state %q has %d values, want %d", state, len(row), len(actions))
		}
		entry := make(map[string]float64, len(actions))
		for i, a := range actions {
			entry[string(a)] = row[i]
		}
		named[state] = entry
	}
	return json.MarshalIndent(named, "", "    ")
}

// #endregion encode

// #region decode

// decodeTable parses either the named form or the legacy positional form.
// Offending rows are dropped and reported, never repaired.
func decodeTable(data []byte, actions []agent.Action) (QTable, []DroppedEntry, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("decode table: %w", err)
	}

	table := make(QTable, len(raw))
	var dropped []DroppedEntry
	for state, msg := range raw {
		row, reason := decodeRow(msg, actions)
		if reason != "" {
			dropped = append(dropped, DroppedEntry{State: state, Reason: reason})
			continue
		}
		table[state] = row
	}
	return table, dropped, nil
}

func decodeRow(msg json.RawMessage, actions []agent.Action) ([]float64, string) {
	trimmed := bytes.TrimSpace(msg)
	if len(trimmed) == 0 {
		return nil, "empty entry"
	}

	switch trimmed[0] {
	case '[':
		var values []float64
		if err := json.Unmarshal(trimmed, &values); err != nil {
			return nil, fmt.Sprintf("malformed array: %v", err)
		}
		if len(values) != len(actions) {
			return nil, fmt.Sprintf("array has %d values, want %d", len(values), len(actions))
		}
		if reason := checkFinite(values); reason != "" {
			return nil, reason
		}
		return values, ""

	case '{':
		var named map[string]float64
		if err := json.Unmarshal(trimmed, &named); err != nil {
			return nil, fmt.Sprintf("malformed object: %v", err)
		}
		row := make([]float64, len(actions))
		for name, v := range named {
			i := agent.IndexOf(actions, agent.Action(name))
			if i < 0 {
				return nil, fmt.Sprintf("unknown action %q", name)
			}
			row[i] = v
		}
		if reason := checkFinite(row); reason != "" {
			return nil, reason
		}
		return row, ""
	}
	return nil, "entry is neither an array nor an object"
}

func checkFinite(values []float64) string {
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Sprintf("non-finite value at position %d", i)
		}
	}
	return ""
}

// #endregion decode
