package main

import "fmt"

// Record is the document type migrant's CLI and admin server operate
// over. migrant never interprets application schema, so the binary
// binds its generic engine.Table[M]/migration.Database[M] machinery to
// a schemaless JSON document rather than a concrete application
// struct — any caller's records round-trip through it untouched.
type Record = map[string]any

// recordID extracts the "id" field migrant uses as primary key for
// backfill paging and verification lookups.
func recordID(m Record) (any, error) {
	id, ok := m["id"]
	if !ok {
		return nil, fmt.Errorf("record missing required \"id\" field")
	}
	return id, nil
}
