package models

import "encoding/json"

// Section is one renderable unit of a manifest.
type Section struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Script string `json:"script"`
}

// Manifest is the approved script a job renders.
type Manifest struct {
	Title    string    `json:"title"`
	Sections []Section `json:"sections"`
}

// JobInput is the payload a worker needs to execute a job. It is created
// once alongside the JobRecord and shares its id. Workers only read it.
type JobInput struct {
	Manifest         *Manifest         `json:"manifest"`
	Settings         map[string]any    `json:"settings,omitempty"`
	TargetSectionIDs []string          `json:"target_section_ids,omitempty"`
	SectionImages    map[string]string `json:"section_images,omitempty"`
}

// InScopeSections returns the manifest sections selected by
// TargetSectionIDs, or every section when no filter is set. Manifest order
// is preserved.
func (in *JobInput) InScopeSections() []Section {
	if in == nil || in.Manifest == nil {
		return nil
	}
	if len(in.TargetSectionIDs) == 0 {
		out := make([]Section, len(in.Manifest.Sections))
		copy(out, in.Manifest.Sections)
		return out
	}
	wanted := make(map[string]bool, len(in.TargetSectionIDs))
	for _, id := range in.TargetSectionIDs {
		wanted[id] = true
	}
	var out []Section
	for _, s := range in.Manifest.Sections {
		if wanted[s.ID] {
			out = append(out, s)
		}
	}
	return out
}

// Clone returns a deep copy of the input.
func (in *JobInput) Clone() *JobInput {
	if in == nil {
		return nil
	}
	out := &JobInput{}
	if in.Manifest != nil {
		m := *in.Manifest
		m.Sections = append([]Section(nil), in.Manifest.Sections...)
		out.Manifest = &m
	}
	if in.Settings != nil {
		// Settings is opaque JSON, so copy it through a round-trip.
		b, err := json.Marshal(in.Settings)
		if err == nil {
			_ = json.Unmarshal(b, &out.Settings)
		}
	}
	out.TargetSectionIDs = append([]string(nil), in.TargetSectionIDs...)
	out.SectionImages = cloneStrings(in.SectionImages)
	return out
}
