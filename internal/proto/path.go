package proto

import (
	"path/filepath"
	"strings"

	apierrors "github.com/apidoorman/doorman-sub003/internal/errors"
)

// ValidatePath reports whether target lies inside one of the allowed
// roots. Paths are cleaned and compared on whole segments, so
// /root_extra is not inside /root and a crafted ../ cannot escape.
func ValidatePath(target string, roots ...string) error {
	abs, err := filepath.Abs(filepath.Clean(target))
	if err != nil {
		return apierrors.ErrValidationFailed.WithDetails("unresolvable path")
	}

	for _, root := range roots {
		if root == "" {
			continue
		}
		rootAbs, err := filepath.Abs(filepath.Clean(root))
		if err != nil {
			continue
		}
		if abs == rootAbs || strings.HasPrefix(abs, rootAbs+string(filepath.Separator)) {
			return nil
		}
	}
	return apierrors.ErrValidationFailed.WithDetails("path escapes the allowed directories")
}
