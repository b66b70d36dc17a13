package models

// Durable setting keys. Values live in the settings table so they survive
// restarts and device reboots.
const (
	SettingSyncEnabled       = "sync_enabled"
	SettingSyncInterval      = "sync_interval"
	SettingLastSyncTimestamp = "last_sync_timestamp"
)

// Setting is a key/value pair persisted on the device.
type Setting struct {
	Key       string `db:"key" json:"key"`
	Value     string `db:"value" json:"value"`
	UpdatedAt int64  `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for Setting.
func (Setting) TableName() string {
	return "settings"
}
