package media

import (
	"fmt"

	"github.com/gabriel-vasile/mimetype"
)

// VerifyContent sniffs the file at path and checks it is a contentType file.
// Subtypes count: an "M4V" brand passes as video/mp4.
func VerifyContent(path, contentType string) error {
	detected, err := mimetype.DetectFile(path)
	if err != nil {
		return fmt.Errorf("failed to sniff %s: %w", path, err)
	}
	for m := detected; m != nil; m = m.Parent() {
		if m.Is(contentType) {
			return nil
		}
	}
	return fmt.Errorf("content of %s is %s, declared %s", path, detected.String(), contentType)
}
