// Package testutil contains helper builders and utilities used across tests
// to reduce boilerplate when producing event streams, fragmenting them into
// arbitrary reads and standing up a scripted agent backend. They are not
// intended for production usage.
package testutil
