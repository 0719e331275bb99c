package migrator

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"enrolld/internal/enrollment/models"
	dErrors "enrolld/pkg/domain-errors"
	pstrings "enrolld/pkg/platform/strings"
)

// Tier is a storage area under the root. Stored paths are "<tier>/<file>".
type Tier string

const (
	TierPending   Tier = "pending"
	TierIntake    Tier = "intake"
	TierPermanent Tier = "permanent"
)

var tiers = []Tier{TierPending, TierIntake, TierPermanent}

// Name prefixes for files that are not yet, or no longer, the stored copy.
const (
	stagedPrefix   = ".staged-"
	previousPrefix = ".previous-"
)

// IsTerminal reports whether files in t are final.
func (t Tier) IsTerminal() bool {
	return t == TierPermanent
}

// ParseTier returns the tier named s.
func ParseTier(s string) (Tier, bool) {
	for _, t := range tiers {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// splitStored validates a stored path and returns its tier and file name.
// Absolute paths, parent references and unknown tiers are rejected.
func splitStored(stored string) (Tier, string, error) {
	invalid := func(reason string) error {
		return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("invalid stored path %q: %s", stored, reason))
	}
	if stored == "" {
		return "", "", invalid("empty")
	}
	if strings.Contains(stored, `\`) || path.IsAbs(stored) || filepath.IsAbs(stored) {
		return "", "", invalid("must be tier-relative")
	}
	for _, part := range strings.Split(stored, "/") {
		if part == ".." {
			return "", "", invalid("parent references are not allowed")
		}
	}
	clean := path.Clean(stored)
	tierName, name, ok := strings.Cut(clean, "/")
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", "", invalid("expected <tier>/<file>")
	}
	tier, ok := ParseTier(tierName)
	if !ok {
		return "", "", invalid("unknown tier " + tierName)
	}
	return tier, name, nil
}

// CanonicalName is the file name a document gets in every tier:
// <firstName>_<lastName>_<nationalID>_<slot><ext>.
func CanonicalName(app *models.PendingApplication, slot models.Slot, ext string) string {
	return fmt.Sprintf("%s_%s_%s_%s%s",
		nameToken(app.Profile.FirstName),
		nameToken(app.Profile.LastName),
		app.NationalID.String(),
		slot,
		SanitizeExt(ext),
	)
}

func nameToken(s string) string {
	if token := pstrings.FileToken(s); token != "" {
		return token
	}
	return "unnamed"
}

// SanitizeExt lower-cases ext and drops it unless it is a short alphanumeric
// extension such as ".pdf".
func SanitizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" || ext[0] != '.' || len(ext) > 10 || len(ext) < 2 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
