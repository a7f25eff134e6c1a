// Package testutil contains helper builders used across tests to reduce
// boilerplate when constructing event histories and seeding session stores.
// They are not intended for production usage.
package testutil
