package extract

import (
	"fmt"

	"github.com/lu4p/cat"

	"github.com/hyperjump/kotae/internal/models"
)

// extractLegacy handles RTF and ODT through lu4p/cat, which sniffs the type itself.
func extractLegacy(f models.Format) extractFunc {
	return func(content []byte) (*Extraction, error) {
		s, err := cat.FromBytes(content)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f, err)
		}
		return extractPlain([]byte(s))
	}
}
