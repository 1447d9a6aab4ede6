package google

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Gemini function calls carry no identifiers, so we synthesize ids that
// embed the function name. The name is recovered when a tool result is
// replayed as a FunctionResponse.
var callCounter atomic.Int64

func newCallID(name string) string {
	return fmt.Sprintf("%s#%d", name, callCounter.Add(1))
}

func functionNameFromCallID(id string) string {
	if i := strings.LastIndex(id, "#"); i >= 0 {
		return id[:i]
	}
	return id
}
