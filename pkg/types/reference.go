package types

import "fmt"

// EntityReference identifies a single record of the system of record.
type EntityReference struct {
	TypeName string
	ID       any
}

// String renders the reference as type#id.
func (r EntityReference) String() string {
	return fmt.Sprintf("%s#%v", r.TypeName, r.ID)
}
