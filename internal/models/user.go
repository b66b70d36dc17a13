package models

// User mirrors a server-side user account. Users are reference data on the
// device: pulled during sync, never created or edited locally, so the sync
// envelope is reduced to the pull bookkeeping fields.
type User struct {
	ID         UUID   `db:"id" json:"id"`
	ServerID   string `db:"server_id" json:"server_id"`
	Name       string `db:"name" json:"name"`
	Email      string `db:"email" json:"email,omitempty"`
	Role       string `db:"role" json:"role,omitempty"`
	IsSynced   bool   `db:"is_synced" json:"is_synced"`
	LastSyncAt int64  `db:"last_sync_at" json:"last_sync_at,omitempty"`
	CreatedAt  int64  `db:"created_at" json:"created_at"`
	UpdatedAt  int64  `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for User.
func (User) TableName() string {
	return "users"
}
