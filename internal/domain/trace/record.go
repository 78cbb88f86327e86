// Package trace holds the per-store audit records emitted by every scoring
// stage and the canonical payload hash used to fingerprint model parameters.
package trace

// SchemaVersion is stamped on every flattened row as metadata.schema_version.
const SchemaVersion = "v1"

// Stage identifies which part of the pipeline produced a record.
type Stage string

// Known stages.
const (
	StagePrior     Stage = "prior"
	StagePosterior Stage = "posterior"
	StageBlend     Stage = "blend"
)

// Section is a named group of key/value pairs inside a record.
type Section map[string]any

// Flat is a flattened record keyed by dotted section names.
type Flat map[string]any

// Record captures the intermediate values behind one store's scores for one
// stage. Records are built once and never mutated afterwards.
type Record struct {
	StoreID string
	Stage   Stage

	Metadata     Section
	Baseline     Section
	Affluence    Section
	Adjacency    Section
	Observations Section
	Model        Section
	Scores       Section
}

// Flatten returns the record as a single map with dotted keys
// (e.g. "scores.value"). Empty sections are omitted; the metadata section
// always carries the schema version.
func (r Record) Flatten() Flat {
	out := Flat{
		"store_id":                r.StoreID,
		"stage":                   string(r.Stage),
		"metadata.schema_version": SchemaVersion,
	}

	sections := [...]struct {
		name    string
		section Section
	}{
		{"metadata", r.Metadata},
		{"baseline", r.Baseline},
		{"affluence", r.Affluence},
		{"adjacency", r.Adjacency},
		{"observations", r.Observations},
		{"model", r.Model},
		{"scores", r.Scores},
	}
	for _, s := range sections {
		for key, value := range s.section {
			out[s.name+"."+key] = leaf(value)
		}
	}
	return out
}

// leaf unwraps optional scores so that serialisers see a plain number or nil.
func leaf(v any) any {
	switch t := v.(type) {
	case *float64:
		if t == nil {
			return nil
		}
		return *t
	case *string:
		if t == nil {
			return nil
		}
		return *t
	default:
		return v
	}
}
