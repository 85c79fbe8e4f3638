// Package storage provides the storage abstraction layer for persisted
// console records such as the session credential.
package storage

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrNamespaceNotFound is returned when a whole namespace does not exist.
	ErrNamespaceNotFound = errors.New("namespace not found")
)

// Repository defines the interface for envelope storage. Records are
// addressed by namespace, record type and record ID.
type Repository interface {
	Put(namespace string, recordType string, recordID string, envelope *Envelope) error
	Get(namespace string, recordType string, recordID string) (*Envelope, error)
	Delete(namespace string, recordType string, recordID string) error
	List(namespace string, recordType string) ([]string, error)
}
