package store

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/dukerupert/mimitask/internal/model"
)

//go:embed snapshot.schema.json
var snapshotSchemaJSON []byte

const snapshotSchemaURL = "mimitask-snapshot.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

// ErrUnsupportedVersion is returned for blobs written by a newer release.
var ErrUnsupportedVersion = errors.New("unsupported snapshot schema version")

func snapshotSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(snapshotSchemaJSON))
		if err != nil {
			schemaErr = fmt.Errorf("parse snapshot schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(snapshotSchemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("add snapshot schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile(snapshotSchemaURL)
	})
	return schema, schemaErr
}

// DecodeSnapshot validates a persisted or exported blob and upgrades it to
// the current schema version.
func DecodeSnapshot(data []byte) (model.Snapshot, error) {
	sch, err := snapshotSchema()
	if err != nil {
		return model.Snapshot{}, err
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("parse snapshot: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		return model.Snapshot{}, fmt.Errorf("validate snapshot: %w", err)
	}

	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return model.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return upgrade(snap)
}

func upgrade(snap model.Snapshot) (model.Snapshot, error) {
	if snap.SchemaVersion > model.SchemaVersion {
		return model.Snapshot{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, snap.SchemaVersion)
	}

	// Version 0 blobs predate mascot preferences.
	if snap.Mascot.ColorID == "" {
		snap.Mascot.ColorID = model.DefaultMascotColor
	}
	if snap.Mascot.AccessoryID == "" {
		snap.Mascot.AccessoryID = model.DefaultMascotAccessory
	}
	if snap.Settings.Theme == "" {
		snap.Settings.Theme = "default"
	}
	if snap.Tasks == nil {
		snap.Tasks = []model.Task{}
	}
	if snap.Rewards == nil {
		snap.Rewards = []model.Reward{}
	}
	snap.SchemaVersion = model.SchemaVersion
	return snap, nil
}
