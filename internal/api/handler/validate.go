package handler

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hlsforge/build-service/internal/config"
	"github.com/hlsforge/build-service/internal/job"
)

// validateSubmission applies the submission allowlists. Admin accounts may
// check out any ref and use the extended instance classes; everyone else is
// held to the configured lists.
func validateSubmission(sub config.SubmissionConfig, acct *job.Account, top, checkoutRef, instanceClass string, filenames []string) error {
	if len(filenames) == 0 {
		return fmt.Errorf("%w: at least one source file is required", job.ErrInvalidSubmission)
	}

	if sub.MaxFiles > 0 && len(filenames) > sub.MaxFiles {
		return fmt.Errorf("%w: at most %d files are accepted", job.ErrInvalidSubmission, sub.MaxFiles)
	}

	seen := make(map[string]bool, len(filenames))
	for _, name := range filenames {
		if !cleanFilename(name) {
			return fmt.Errorf("%w: invalid filename %q", job.ErrInvalidSubmission, name)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate file %s", job.ErrInvalidSubmission, name)
		}
		seen[name] = true
	}

	if top == "" || !seen[top] {
		return fmt.Errorf("%w: top file must be one of the uploaded files", job.ErrInvalidSubmission)
	}

	if checkoutRef == "" {
		return fmt.Errorf("%w: checkout_ref is required", job.ErrInvalidSubmission)
	}
	if !acct.Admin && !slices.Contains(sub.CheckoutRefs, checkoutRef) {
		return fmt.Errorf("%w: checkout_ref %s is not allowed", job.ErrInvalidSubmission, checkoutRef)
	}

	allowed := slices.Contains(sub.InstanceClasses, instanceClass)
	if !allowed && acct.Admin {
		allowed = slices.Contains(sub.AdminInstanceClasses, instanceClass)
	}
	if !allowed {
		return fmt.Errorf("%w: instance class %s is not allowed", job.ErrInvalidSubmission, instanceClass)
	}

	return nil
}

// cleanFilename accepts only bare filenames: no path separators, no parent
// references, nothing hidden. Staged files land on disk under these names.
func cleanFilename(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, "/\\") {
		return false
	}
	if strings.HasPrefix(name, ".") {
		return false
	}
	return filepath.Base(name) == name
}
