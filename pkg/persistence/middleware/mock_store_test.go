package middleware_test

import (
	"github.com/aretw0/tendril/pkg/adapters/memory"
	"github.com/aretw0/tendril/pkg/ports"
)

// MockStore exposes only the required Store ports of the memory store,
// hiding its message log and execution listing.
type MockStore struct {
	ports.Store
}

func NewMockStore() *MockStore {
	return &MockStore{Store: memory.NewStore()}
}

var _ ports.Store = (*MockStore)(nil)
