package lock

// ProcessChecker reports whether a pid denotes a live process.
type ProcessChecker interface {
	Alive(pid int) bool
}

// CheckerFunc adapts a function to ProcessChecker.
type CheckerFunc func(pid int) bool

// Alive implements ProcessChecker.
func (f CheckerFunc) Alive(pid int) bool { return f(pid) }

// OSChecker asks the operating system.
type OSChecker struct{}

// Alive implements ProcessChecker.
func (OSChecker) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return processAlive(pid)
}
