// Package reason implements the external reasoning collaborator boundary.
//
// The collaborator is the only component allowed to exercise semantic
// judgment about what a line item label means. Its output is treated as an
// untrusted payload: everything it returns is parsed and validated before it
// can influence a mapping record.
package reason
