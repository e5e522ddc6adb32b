package storage

// Collection names shared by the primary and backup stores.
const (
	CollectionUsers         = "users"
	CollectionTables        = "tables"
	CollectionRows          = "rows"
	CollectionLogs          = "logs"
	CollectionOTPs          = "otps"
	CollectionLoginAttempts = "login_attempts"
)

// WipeOrder is the order in which the primary collections are cleared.
var WipeOrder = []string{
	CollectionUsers,
	CollectionTables,
	CollectionRows,
	CollectionLogs,
	CollectionOTPs,
	CollectionLoginAttempts,
}

// WipeReport records what a wipe removed. Completed lists the collections
// that were fully cleared before any failure.
type WipeReport struct {
	Deleted   map[string]int64
	Completed []string
}

func newWipeReport() *WipeReport {
	return &WipeReport{Deleted: make(map[string]int64)}
}

func (r *WipeReport) record(collection string, n int64) {
	r.Deleted[collection] = n
	r.Completed = append(r.Completed, collection)
}
