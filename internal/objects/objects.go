// Package objects contains the enums and value objects shared by the store, the
// authorization engine and the lifecycle services.
// To avoid circular dependencies, we put them here.
package objects
