// Package integrations manages per-tenant connections to external systems
// and their encrypted credentials.
package integrations

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Integration is a tenant's connection to one external system. Credentials
// are stored pgcrypto-encrypted; LastSyncAt is the incremental watermark
// advanced only when a full run finishes.
type Integration struct {
	bun.BaseModel `bun:"table:integrations,alias:i"`

	ID            uuid.UUID  `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	TenantID      uuid.UUID  `bun:"tenant_id,notnull,type:uuid" json:"tenant_id"`
	Provider      string     `bun:"provider,notnull" json:"provider"`
	BaseURL       string     `bun:"base_url,notnull" json:"base_url"`
	Username      string     `bun:"username,notnull,default:''" json:"username"`
	Credentials   string     `bun:"credentials,notnull,default:''" json:"-"`
	LastSyncAt    *time.Time `bun:"last_sync_at" json:"last_sync_at"`
	Active        bool       `bun:"active,notnull,default:true" json:"active"`
	CreatedAt     time.Time  `bun:"created_at,notnull,default:now()" json:"created_at"`
	UpdatedAt     time.Time  `bun:"updated_at,notnull,default:now()" json:"updated_at"`
}
