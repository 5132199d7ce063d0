package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// DeliveryRequest asks the daemon to deliver or refresh a book.
type DeliveryRequest struct {
	BookID        int64  `json:"bookId"`
	Format        string `json:"format"`
	ChatID        int64  `json:"chatId"`
	ReplyTo       int64  `json:"replyTo,omitempty"`
	EditMessageID int64  `json:"editMessageId,omitempty"`
}

// DeliveryOutcome describes a finished delivery.
type DeliveryOutcome struct {
	Kind      string `json:"kind"`
	RequestID string `json:"requestId"`
	Handle    string `json:"handle,omitempty"`
	FromCache bool   `json:"fromCache"`
	Filename  string `json:"filename,omitempty"`
	ShareURL  string `json:"shareUrl,omitempty"`
	ExpiresAt string `json:"expiresAt,omitempty"`
	Size      int64  `json:"size,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
}

// HandleEntry is one cached delivery handle.
type HandleEntry struct {
	BookID    int64  `json:"bookId"`
	Format    string `json:"format"`
	Handle    string `json:"handle"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

// HandleListResponse wraps cached handles.
type HandleListResponse struct {
	Items []HandleEntry `json:"items"`
}

// StagedFile is one file in the staging directory.
type StagedFile struct {
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	ExpiresAt string `json:"expiresAt,omitempty"`
	Tracked   bool   `json:"tracked"`
	Expired   bool   `json:"expired"`
}

// StagingListResponse wraps the staging directory listing.
type StagingListResponse struct {
	Items      []StagedFile `json:"items"`
	TotalBytes int64        `json:"totalBytes"`
}

// SweepSummary reports one eviction sweep.
type SweepSummary struct {
	At             string         `json:"at,omitempty"`
	Removed        map[string]int `json:"removed"`
	Failures       int            `json:"failures"`
	Kept           int            `json:"kept"`
	RemainingBytes int64          `json:"remainingBytes"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool          `json:"running"`
	PID          int           `json:"pid"`
	DatabasePath string        `json:"databasePath"`
	LockFilePath string        `json:"lockFilePath"`
	StagingDir   string        `json:"stagingDir"`
	StagedFiles  int           `json:"stagedFiles"`
	StagedBytes  int64         `json:"stagedBytes"`
	Handles      int           `json:"handles"`
	Sweeps       int           `json:"sweeps"`
	LastSweep    *SweepSummary `json:"lastSweep,omitempty"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}
