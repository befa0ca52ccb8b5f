package execution

import (
	"encoding/json"
	"fmt"
	"time"
)

// CurrentVersion is the state-file format version this process writes.
const CurrentVersion = 2

// StateFile is the current multi-execution shape of the shared file. The
// legacy shape (a bare single execution object) is accepted on read and
// normalized into this form; writes always produce the current shape.
type StateFile struct {
	Executions  map[string]*Execution `json:"executions"`
	LastUpdated time.Time             `json:"lastUpdated"`
	Version     int                   `json:"version,omitempty"`
}

// legacyProbe distinguishes the two file shapes. A current file has an
// "executions" field; a legacy file has a top-level "skillName".
type legacyProbe struct {
	Executions json.RawMessage `json:"executions"`
	SkillName  string          `json:"skillName"`
}

// LegacyID derives the synthetic identifier under which a legacy
// single-execution file is keyed.
func LegacyID(skillName string, startTime time.Time) string {
	return fmt.Sprintf("legacy_%s_%d", skillName, startTime.UnixMilli())
}

// DecodeStateFile parses the shared file, accepting both shapes. Empty
// content yields an empty state rather than an error so a freshly truncated
// file is not treated as corruption.
func DecodeStateFile(data []byte) (*StateFile, error) {
	if len(data) == 0 {
		return emptyState(), nil
	}

	var probe legacyProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("parsing state file: %w", err)
	}

	if probe.Executions != nil {
		var sf StateFile
		if err := json.Unmarshal(data, &sf); err != nil {
			return nil, fmt.Errorf("parsing state file: %w", err)
		}
		if sf.Executions == nil {
			sf.Executions = map[string]*Execution{}
		}
		for id, exec := range sf.Executions {
			if exec == nil {
				delete(sf.Executions, id)
				continue
			}
			if exec.ID == "" {
				exec.ID = id
			}
		}
		return &sf, nil
	}

	if probe.SkillName == "" {
		// Neither shape. An empty object is a valid "nothing tracked" file.
		return emptyState(), nil
	}

	var legacy Execution
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, fmt.Errorf("parsing legacy state file: %w", err)
	}
	legacy.ID = LegacyID(legacy.SkillName, legacy.StartTime)
	return &StateFile{
		Executions:  map[string]*Execution{legacy.ID: &legacy},
		LastUpdated: legacy.StartTime,
		Version:     CurrentVersion,
	}, nil
}

// EncodeStateFile serializes the current shape, stamping lastUpdated.
func EncodeStateFile(sf *StateFile, now time.Time) ([]byte, error) {
	out := StateFile{
		Executions:  sf.Executions,
		LastUpdated: now,
		Version:     CurrentVersion,
	}
	if out.Executions == nil {
		out.Executions = map[string]*Execution{}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding state file: %w", err)
	}
	return data, nil
}

func emptyState() *StateFile {
	return &StateFile{
		Executions: map[string]*Execution{},
		Version:    CurrentVersion,
	}
}
