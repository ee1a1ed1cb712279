// Package validation vets JSON Patch documents before they are applied
// to stored workflow definitions.
package validation

import (
	"fmt"
	"strings"
)

// maxOperations bounds one patch document; larger edits should replace
// the workflow wholesale via PUT.
const maxOperations = 100

// PatchValidator checks JSON Patch operations against workflow rules.
type PatchValidator struct{}

// NewPatchValidator creates a new patch validator.
func NewPatchValidator() *PatchValidator {
	return &PatchValidator{}
}

// ValidateOperations validates a decoded patch document: known op
// types, required fields per op, a bounded op count, and no tampering
// with the workflow's identity.
func (v *PatchValidator) ValidateOperations(operations []map[string]interface{}) error {
	if len(operations) == 0 {
		return fmt.Errorf("patch has no operations")
	}
	if len(operations) > maxOperations {
		return fmt.Errorf("patch has %d operations, the limit is %d", len(operations), maxOperations)
	}

	for i, op := range operations {
		if err := v.validateOperation(op, i); err != nil {
			return err
		}
	}
	return nil
}

// validateOperation checks one operation's structure.
func (v *PatchValidator) validateOperation(op map[string]interface{}, index int) error {
	opType, ok := op["op"].(string)
	if !ok {
		return fmt.Errorf("operation %d: missing or invalid 'op' field", index)
	}

	path, ok := op["path"].(string)
	if !ok {
		return fmt.Errorf("operation %d: missing or invalid 'path' field", index)
	}
	if err := checkPath(path, index); err != nil {
		return err
	}

	switch opType {
	case "add", "replace", "test":
		if _, ok := op["value"]; !ok {
			return fmt.Errorf("operation %d: 'value' required for %s operation", index, opType)
		}
	case "remove":
	case "move", "copy":
		from, ok := op["from"].(string)
		if !ok {
			return fmt.Errorf("operation %d: 'from' required for %s operation", index, opType)
		}
		if err := checkPath(from, index); err != nil {
			return err
		}
	default:
		return fmt.Errorf("operation %d: unsupported operation type: %s", index, opType)
	}

	return nil
}

// checkPath refuses JSON Pointer syntax errors and edits to the
// workflow id, which is the store key.
func checkPath(path string, index int) error {
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("operation %d: path %q must start with '/'", index, path)
	}
	if path == "/id" || strings.HasPrefix(path, "/id/") {
		return fmt.Errorf("operation %d: the workflow id cannot be patched", index)
	}
	return nil
}
