package record

import (
	"sort"

	"github.com/samber/lo"
)

const (
	// FilesField lists the entry names of a flattened manifest.
	FilesField = "files"
	// FileFieldPrefix prefixes the per-entry fields of a flattened manifest.
	FileFieldPrefix = "file_"
)

// Manifest is a file listing: entry name to that entry's own fields.
type Manifest map[string]Record

// Names returns the entry names in sorted order.
func (m Manifest) Names() []string {
	names := lo.Keys(m)
	sort.Strings(names)
	return names
}

// Flatten folds the manifest into a single indexable record: FilesField
// holds the entry names and file_<field> holds the distinct values of each
// entry field, visiting entries in name order.
func (m Manifest) Flatten() Record {
	out := make(Record)
	names := m.Names()
	if len(names) == 0 {
		return out
	}
	out[FilesField] = List(names...)

	collected := make(map[string][]string)
	for _, name := range names {
		entry := m[name]
		for _, field := range entry.Fields() {
			if field == manifestKeyField {
				continue
			}
			collected[field] = append(collected[field], entry[field].Strings()...)
		}
	}
	for field, values := range collected {
		out[FileFieldPrefix+field] = List(lo.Uniq(values)...)
	}
	return out
}

// Merge copies the fields of other into r, keeping r's value on conflict.
func (r Record) Merge(other Record) {
	for k, v := range other {
		if _, exists := r[k]; !exists {
			r[k] = v
		}
	}
}
