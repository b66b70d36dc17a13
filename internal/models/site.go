package models

// Site mirrors a server-side work site. Like users, sites are pull-only
// reference data.
type Site struct {
	ID         UUID     `db:"id" json:"id"`
	ServerID   string   `db:"server_id" json:"server_id"`
	Name       string   `db:"name" json:"name"`
	Address    string   `db:"address" json:"address,omitempty"`
	Latitude   *float64 `db:"latitude" json:"latitude,omitempty"`
	Longitude  *float64 `db:"longitude" json:"longitude,omitempty"`
	IsSynced   bool     `db:"is_synced" json:"is_synced"`
	LastSyncAt int64    `db:"last_sync_at" json:"last_sync_at,omitempty"`
	CreatedAt  int64    `db:"created_at" json:"created_at"`
	UpdatedAt  int64    `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for Site.
func (Site) TableName() string {
	return "sites"
}
