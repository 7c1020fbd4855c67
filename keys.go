package muralgen

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// requestKey builds a stable cache key from an operation name and its
// semantically relevant parameters. Parameters are serialized in sorted
// key order, so two logically identical calls produce the same key no
// matter how the caller assembled them. Cosmetic fields (callbacks, output
// formatting) must not be passed in.
func requestKey(op string, params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		v, err := json.Marshal(params[k])
		if err != nil {
			// Parameters are plain values; this only fires on a
			// programming error. Fall back to the verbatim form.
			v = []byte(fmt.Sprintf("%v", params[k]))
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.Write(v)
		b.WriteByte('\n')
	}

	sum := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%s:%x", op, sum)
}
