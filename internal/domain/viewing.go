package domain

// ViewingContext selects whose perspective an evaluation is shown from:
// every master (All) or one specific master.
type ViewingContext struct {
	master ID
}

// All is the aggregate view across every master.
func All() ViewingContext {
	return ViewingContext{}
}

// Master is the view of a single master. An empty id is the same as All.
func Master(id ID) ViewingContext {
	return ViewingContext{master: NormalizeID(id)}
}

// IsAll reports whether the view spans all masters.
func (v ViewingContext) IsAll() bool {
	return v.master.IsNull()
}

// MasterID returns the viewed master, or NullID for All.
func (v ViewingContext) MasterID() ID {
	return v.master
}

// Includes reports whether a grantor is visible in this view.
func (v ViewingContext) Includes(grantor ID) bool {
	return v.IsAll() || NormalizeID(grantor) == v.master
}

func (v ViewingContext) String() string {
	if v.IsAll() {
		return "all"
	}
	return string(v.master)
}
