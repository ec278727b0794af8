package volume

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"k8s.io/klog/v2"
)

var (
	ErrEnumeration = errors.New("volume enumeration failed")
	ErrWipe        = errors.New("volume wipe failed")
)

// DefaultReserved are control entries kept next to tenant volumes by the panel daemon.
var DefaultReserved = []string{".sftp"}

// List returns the names of the immediate subdirectories of root, skipping any
// name that starts with one of the reserved prefixes. An unreadable root yields an
// empty list and an error wrapping ErrEnumeration.
func List(root string, reserved []string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return []string{}, fmt.Errorf("%w: read %s: %v", ErrEnumeration, root, err)
	}

	volumes := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || isReserved(e.Name(), reserved) {
			continue
		}
		volumes = append(volumes, e.Name())
	}

	klog.V(4).InfoS("Enumerated volumes", "root", root, "count", len(volumes))
	return volumes, nil
}

func isReserved(name string, reserved []string) bool {
	for _, p := range reserved {
		if p != "" && strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
