package catalog

import (
	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/guildmark/internal/domain"
)

// ParseCUE compiles a CUE catalog. Uses the CUE SDK's Go API directly
// (not a CLI subprocess). Every value must be concrete.
func ParseCUE(filename string, data []byte) (*Catalog, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	templatesVal := v.LookupPath(cue.ParsePath("templates"))
	if !templatesVal.Exists() {
		return nil, &CompileError{
			Field:   "templates",
			Message: "templates is required",
			Pos:     v.Pos(),
		}
	}

	iter, err := templatesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var raws []rawTemplate
	for iter.Next() {
		tv := iter.Value()
		var raw rawTemplate
		if err := tv.Decode(&raw); err != nil {
			return nil, formatCUEError(err)
		}
		// The label is the id; an explicit id field must agree with it.
		label := domain.NormalizeID(iter.Selector().Unquoted())
		if !raw.ID.IsNull() && domain.NormalizeID(raw.ID) != label {
			return nil, &CompileError{
				Field:   "id",
				Message: "id " + string(raw.ID) + " does not match label " + string(label),
				Pos:     tv.Pos(),
			}
		}
		raw.ID = label
		raw.pos = tv.Pos()
		raws = append(raws, raw)
	}

	return build(raws)
}
