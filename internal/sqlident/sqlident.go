// Package sqlident holds the single identifier-quoting rule shared by the
// target bootstrap and the Loader's statement building, mirroring
// common.QuoteIdentifier in redb-open's anchor database package.
package sqlident

import (
	"fmt"
	"strings"
)

// Quote doubles any embedded quotes and wraps name in double quotes.
func Quote(name string) string {
	return fmt.Sprintf(`"%s"`, strings.Replace(name, `"`, `""`, -1))
}
