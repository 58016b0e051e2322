package kernel

// Error describes a kernel error. Kernel code runs without the Go allocator,
// so every error must be declared once as a package-level pointer to an
// Error value and returned by reference; errors.New cannot be used.
type Error struct {
	// The subsystem that reported the error.
	Module string

	// A human readable description of the error.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}
