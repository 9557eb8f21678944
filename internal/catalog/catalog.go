// Package catalog manages providers, credentials and models.
package catalog

import (
	"time"

	"github.com/router-for-me/CLIProxyAPIRouter/internal/secretstore"
	"gorm.io/gorm"
)

// Catalog performs administrative CRUD and keeps the provider and model invariants.
type Catalog struct {
	db      *gorm.DB
	secrets secretstore.Store
	now     func() time.Time
}

// New constructs a Catalog. secrets seals credential material on write.
func New(db *gorm.DB, secrets secretstore.Store) *Catalog {
	return &Catalog{db: db, secrets: secrets, now: func() time.Time { return time.Now().UTC() }}
}
