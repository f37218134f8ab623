// Package catalog loads achievement templates and their rules from CUE or
// YAML files.
//
// Both formats describe the same shape. In CUE, templates are a struct
// keyed by template id:
//
//	templates: journeyman: {
//		title:  "Journeyman"
//		points: 50
//		logic:  "AND"
//		rules: [
//			{id: "jm-work", kind: "automatic", condition: "WORK_HOURS", threshold: 20},
//			{id: "jm-project", kind: "automatic", condition: "PROJECT_COUNT", threshold: 1},
//		]
//	}
//
// In YAML, templates is a list and each entry carries its own id.
//
// Loading validates the catalog and fills in categories that were left
// out (see domain.InferCategory). Rule condition types are not checked
// against the known set: unknown conditions are data, handled at
// evaluation time.
package catalog
