// Package registry persists the function store to a JSON registry file.
//
// The file is owned by this package: nothing else reads or writes it. Fields the current
// schema does not know, at the top level and per record, survive a load/save cycle so
// registries extended by other tools stay intact.
package registry

import (
	"encoding/json"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/teranos/warden/function"
)

// SchemaVersion is the registry format written by this build.
const SchemaVersion = "2.0"

// Document is the registry file.
type Document struct {
	Version     string
	LastUpdated time.Time
	Functions   map[string]function.Record
	// Statistics is the aggregate block as read from disk. It is recomputed on every save.
	Statistics json.RawMessage
	// Unparsed holds function entries that could not be decoded as records.
	// They are written back unchanged unless a record with the same id replaces them.
	Unparsed map[string]json.RawMessage
	// Extra holds unknown top-level fields.
	Extra map[string]json.RawMessage
}

// NewDocument creates an empty document at the current schema version.
func NewDocument() *Document {
	return &Document{
		Version:   SchemaVersion,
		Functions: make(map[string]function.Record),
	}
}

// Records returns the decoded records sorted by function_id.
func (d *Document) Records() []function.Record {
	out := make([]function.Record, 0, len(d.Functions))
	for _, rec := range d.Functions {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FunctionID < out[j].FunctionID })
	return out
}

// WithRecords returns a copy of d carrying recs in place of d's functions.
// Unparsed entries and top-level extras carry over.
func (d *Document) WithRecords(recs []function.Record) *Document {
	next := &Document{
		Version:    d.Version,
		Functions:  make(map[string]function.Record, len(recs)),
		Statistics: d.Statistics,
		Unparsed:   d.Unparsed,
		Extra:      d.Extra,
	}
	if next.Version == "" {
		next.Version = SchemaVersion
	}
	for _, rec := range recs {
		next.Functions[rec.FunctionID] = rec
	}
	return next
}

type documentJSON struct {
	Version     string                     `json:"version"`
	LastUpdated function.Timestamp         `json:"last_updated"`
	Functions   map[string]json.RawMessage `json:"functions"`
	Statistics  json.RawMessage            `json:"statistics,omitempty"`
}

var knownDocumentFields = func() map[string]bool {
	names := map[string]bool{}
	t := reflect.TypeOf(documentJSON{})
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		names[name] = true
	}
	return names
}()

// MarshalJSON writes the document with functions keyed by id.
func (d *Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(d.Extra)+len(knownDocumentFields))
	for k, v := range d.Extra {
		if !knownDocumentFields[k] {
			out[k] = v
		}
	}

	functions := make(map[string]json.RawMessage, len(d.Functions)+len(d.Unparsed))
	for id, raw := range d.Unparsed {
		functions[id] = raw
	}
	for id, rec := range d.Functions {
		raw, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}
		functions[id] = raw
	}

	fields := map[string]interface{}{
		"version":      d.Version,
		"last_updated": function.Timestamp(d.LastUpdated),
		"functions":    functions,
	}
	if len(d.Statistics) > 0 {
		fields["statistics"] = d.Statistics
	}
	for k, v := range fields {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		out[k] = raw
	}
	return json.Marshal(out)
}

// decodeDocument parses a registry file. A structural error (not JSON, functions not an object)
// fails the whole document; a single malformed record is kept in Unparsed and reported in bad.
func decodeDocument(data []byte) (doc *Document, bad []string, err error) {
	var in documentJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, nil, err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, err
	}

	doc = &Document{
		Version:     in.Version,
		LastUpdated: time.Time(in.LastUpdated),
		Functions:   make(map[string]function.Record, len(in.Functions)),
		Statistics:  in.Statistics,
	}
	for k, v := range raw {
		if knownDocumentFields[k] {
			continue
		}
		if doc.Extra == nil {
			doc.Extra = make(map[string]json.RawMessage)
		}
		doc.Extra[k] = v
	}

	for id, entry := range in.Functions {
		var rec function.Record
		if err := json.Unmarshal(entry, &rec); err != nil {
			if doc.Unparsed == nil {
				doc.Unparsed = make(map[string]json.RawMessage)
			}
			doc.Unparsed[id] = entry
			bad = append(bad, id)
			continue
		}
		doc.Functions[id] = rec
	}
	sort.Strings(bad)
	return doc, bad, nil
}
