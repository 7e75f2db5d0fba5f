// Package identifier issues record identifiers for the persistence layer.
package identifier

import "github.com/google/uuid"

// UUIDProvider issues time-ordered UUIDv7 identifiers.
type UUIDProvider struct{}

// NewUUIDProvider constructs the provider.
func NewUUIDProvider() *UUIDProvider {
	return &UUIDProvider{}
}

// NewID returns a fresh UUIDv7 string.
func (p *UUIDProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
