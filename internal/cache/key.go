package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// QueryKey builds a deterministic cache key for a read-only Odoo RPC call.
// Per §4.5 the key shape is (odoo_db, effective_uid, model, method,
// stable_args_hash, schema_version); effective_uid must be folded in
// because record visibility and masking both depend on it — without it a
// privileged caller's unmasked cache entry would alias the key a later
// unprivileged caller computes for the identical (model, method, args).
// db and model lead the key so a write can drop a model's entries with
// one "odoo:<db>:<model>:*" prefix pattern.
func QueryKey(db string, effectiveUID int64, model, method string, args map[string]any, schemaVersion int64) string {
	canonical := canonicalize(args)
	hash := sha256.Sum256(canonical)
	return fmt.Sprintf("odoo:%s:%s:%d:%s:%d:%s", db, model, effectiveUID, method, schemaVersion, hex.EncodeToString(hash[:16]))
}

// SchemaKey builds the cache key for a model's cached fields_get schema.
func SchemaKey(model string, schemaVersion int64) string {
	return fmt.Sprintf("schema:%d:%s", schemaVersion, model)
}

// canonicalize produces a stable byte representation of an argument map so
// that equivalent requests (same keys, different insertion order) hash
// identically.
func canonicalize(args map[string]any) []byte {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		ordered = append(ordered, k, args[k])
	}

	data, err := json.Marshal(ordered)
	if err != nil {
		return []byte(fmt.Sprintf("%v", args))
	}
	return data
}

// QuickHash hashes arbitrary bytes, used for building subscription and
// pagination cursor identifiers.
func QuickHash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// ShortHash is QuickHash truncated to 16 hex characters.
func ShortHash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:8])
}
