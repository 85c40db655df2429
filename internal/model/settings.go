package model

// QuietHoursSetting is the per-owner window during which sends are held back.
// Start and End are local "HH:mm" wall times in Timezone (IANA name).
type QuietHoursSetting struct {
	OwnerID  string
	Enabled  bool
	Start    string
	End      string
	Timezone string
}
