package branches

import (
	"errors"
	"fmt"

	"github.com/franchise-ops/franchise-ops/internal/platform/httpx"
)

// Type classifies a branch for default report scoping.
type Type string

const (
	TypeHeadOffice Type = "head_office"
	TypeStorefront Type = "storefront"
)

// Branch is a directory entry. ID is canonical; Name is for display.
type Branch struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    Type   `json:"type"`
	Address string `json:"address,omitempty"`
}

var (
	// ErrNotFound is returned when a branch id is not in the directory.
	ErrNotFound = fmt.Errorf("branch %w", httpx.ErrNotFound)
	// ErrUnknownType is returned for branch types outside head_office|storefront.
	ErrUnknownType = errors.New("branches: unknown branch type")
)
