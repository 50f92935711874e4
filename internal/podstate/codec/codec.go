// Package codec serializes pod state snapshots.
//
// The stored form is a JSON envelope {"version":N,"snapshot":{...}}. Decoding
// ignores unknown fields, so a snapshot written by a newer release still loads.
// A bare snapshot object without an envelope is read as version 0.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/autopeer-io/podstate/internal/podstate/core"
	"github.com/autopeer-io/podstate/internal/podstate/model"
)

// CurrentVersion is the envelope version written by Encode.
const CurrentVersion = 1

const source = "snapshot"

type envelope struct {
	Version  int             `json:"version"`
	Snapshot json.RawMessage `json:"snapshot"`
}

// Encode serializes s. Equal snapshots encode to identical bytes.
func Encode(s model.Snapshot) ([]byte, error) {
	s = s.Clone()
	s.ActiveAlerts = s.ActiveAlerts.Sorted()

	body, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Version: CurrentVersion, Snapshot: body})
}

// Decode parses data written by any version of Encode and returns the
// snapshot together with the version it was written with. Failures are
// reported as *core.DecodeError.
func Decode(data []byte) (model.Snapshot, int, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return model.Snapshot{}, 0, &core.DecodeError{Source: source, Err: errors.New("empty payload")}
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return model.Snapshot{}, 0, &core.DecodeError{Source: source, Err: err}
	}

	body := []byte(env.Snapshot)
	version := env.Version
	if len(env.Snapshot) == 0 || bytes.Equal(env.Snapshot, []byte("null")) {
		// Version 0 stored the snapshot object itself.
		body = data
		version = 0
	}

	var s model.Snapshot
	if err := json.Unmarshal(body, &s); err != nil {
		return model.Snapshot{}, version, &core.DecodeError{Source: source, Err: err}
	}
	if s.ActiveAlerts == nil {
		s.ActiveAlerts = model.AlertSet{}
	}
	return s, version, nil
}
