package tools

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// canonicalKey derives the dedup/cache key for one tool call. Arguments
// are serialized with sorted keys so logically identical calls collide
// regardless of map iteration order.
func canonicalKey(tenantID, tool, version string, args map[string]any) string {
	var sb strings.Builder
	sb.WriteString(tenantID)
	sb.WriteByte('|')
	sb.WriteString(tool)
	sb.WriteByte('|')
	sb.WriteString(version)
	sb.WriteByte('|')

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		encoded, _ := json.Marshal(args[k])
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.Write(encoded)
		sb.WriteByte(';')
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}
