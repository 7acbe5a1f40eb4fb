// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"maps"
	"slices"

	"github.com/fxamacker/cbor/v2"
	"github.com/samber/oops"
)

// SnapshotVersion is the schema version written by EncodeSnapshot.
//
// Version history:
//   - 1: world, position, inventory, ender chest, vitals, attributes
//   - 2: game mode
const SnapshotVersion = 2

// Game modes.
const (
	GameModeSurvival  = "survival"
	GameModeCreative  = "creative"
	GameModeAdventure = "adventure"
	GameModeSpectator = "spectator"
)

// Snapshot is the persisted world state needed to restore a user's context.
// Fields are keyed by integer tags; tags are never reused.
type Snapshot struct {
	Version    int               `cbor:"1,keyasint"`
	World      string            `cbor:"2,keyasint,omitempty"`
	Position   Position          `cbor:"3,keyasint"`
	Inventory  []byte            `cbor:"4,keyasint,omitempty"`
	EnderChest []byte            `cbor:"5,keyasint,omitempty"`
	Vitals     Vitals            `cbor:"6,keyasint"`
	Attributes map[string]string `cbor:"7,keyasint,omitempty"`
	GameMode   string            `cbor:"8,keyasint,omitempty"`
}

// Position is a location and facing in the world.
type Position struct {
	X     float64 `cbor:"1,keyasint"`
	Y     float64 `cbor:"2,keyasint"`
	Z     float64 `cbor:"3,keyasint"`
	Yaw   float32 `cbor:"4,keyasint"`
	Pitch float32 `cbor:"5,keyasint"`
}

// Vitals is the health and progression state of a user.
type Vitals struct {
	Health     float64 `cbor:"1,keyasint"`
	Food       int     `cbor:"2,keyasint"`
	Saturation float32 `cbor:"3,keyasint"`
	Experience int     `cbor:"4,keyasint"`
	Level      int     `cbor:"5,keyasint"`
}

// DefaultSnapshot returns the state of a freshly registered account.
// Decoding starts from these values so fields missing from older blobs keep
// their defaults.
func DefaultSnapshot() Snapshot {
	return Snapshot{
		Version:  SnapshotVersion,
		Position: Position{Y: 64},
		Vitals: Vitals{
			Health:     20,
			Food:       20,
			Saturation: 5,
		},
		GameMode: GameModeSurvival,
	}
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	c := s
	c.Inventory = slices.Clone(s.Inventory)
	c.EnderChest = slices.Clone(s.EnderChest)
	c.Attributes = maps.Clone(s.Attributes)
	return c
}

var (
	snapshotEncMode = mustEncMode()
	snapshotDecMode = mustDecMode()
)

func mustEncMode() cbor.EncMode {
	mode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return mode
}

func mustDecMode() cbor.DecMode {
	mode, err := cbor.DecOptions{
		// Unknown tags come from newer writers; skip them.
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
		MaxNestedLevels:   16,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return mode
}

// EncodeSnapshot serializes a snapshot at the current schema version.
func EncodeSnapshot(s Snapshot) ([]byte, error) {
	s.Version = SnapshotVersion
	data, err := snapshotEncMode.Marshal(s)
	if err != nil {
		return nil, oops.Code("SNAPSHOT_ENCODE_FAILED").Wrap(err)
	}
	return data, nil
}

// DecodeSnapshot deserializes a snapshot of any version. An empty blob
// yields DefaultSnapshot. The returned snapshot is upgraded to the current
// version.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	s := DefaultSnapshot()
	if len(data) == 0 {
		return s, nil
	}
	s.Version = 0
	if err := snapshotDecMode.Unmarshal(data, &s); err != nil {
		return DefaultSnapshot(), oops.Code("SNAPSHOT_DECODE_FAILED").
			With("bytes", len(data)).
			Wrap(err)
	}
	if s.Version > SnapshotVersion {
		return s, nil
	}
	if s.GameMode == "" {
		s.GameMode = GameModeSurvival
	}
	s.Version = SnapshotVersion
	return s, nil
}
