package resolver

import "fmt"

// CodeModuleNotFound is the machine-readable code carried by resolution
// failures, matching what test code checks on caught require errors.
const CodeModuleNotFound = "MODULE_NOT_FOUND"

// ModuleNotFoundError is returned when every resolution layer came up empty.
// Caller is the requesting file's path relative to its own directory, or "."
// when the two coincide.
type ModuleNotFoundError struct {
	ModuleName string
	Caller     string
}

func (e *ModuleNotFoundError) Error() string {
	return fmt.Sprintf("Cannot find module '%s' from '%s'", e.ModuleName, e.Caller)
}

// Code returns CodeModuleNotFound
func (e *ModuleNotFoundError) Code() string {
	return CodeModuleNotFound
}
