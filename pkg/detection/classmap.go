package detection

import (
	"fmt"
	"strconv"
)

// ClassMap relabels detector class ids into entity ids.
// Classes without an entry keep their numeric id as label.
type ClassMap map[int]string

// DefaultClassMap returns the relabel table for the cube model, whose
// annotation tool exported cube 0 and cube 3 in swapped order.
func DefaultClassMap() ClassMap {
	return ClassMap{3: "0", 0: "3"}
}

// Label returns the entity id for a detector class.
func (m ClassMap) Label(classID int) string {
	if label, ok := m[classID]; ok {
		return label
	}
	return strconv.Itoa(classID)
}

// Validate rejects tables that map two classes onto one label.
func (m ClassMap) Validate() error {
	seen := make(map[string]int, len(m))
	for class, label := range m {
		if label == "" {
			return fmt.Errorf("class %d: empty label", class)
		}
		if other, ok := seen[label]; ok {
			return fmt.Errorf("classes %d and %d both map to %q", other, class, label)
		}
		seen[label] = class
	}
	return nil
}
