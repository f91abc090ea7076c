// Package schema provides implementations for handling (Unix-based) operating
// system syscalls. Packages consuming host resources (disk images, host
// directories being imported) depend on small provider interfaces satisfied
// by the types in this package, so tests can substitute mocks.
package schema
