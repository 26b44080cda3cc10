package dto

// ApplyUpdateOutput reports the outcome of one distributed update
type ApplyUpdateOutput struct {
	OK           bool     `json:"ok"`
	TxnID        string   `json:"txn_id,omitempty"`
	Master       string   `json:"master"`
	Participants []string `json:"participants"`
	Sync         bool     `json:"sync"`
	Ops          int      `json:"ops"`
	Code         int      `json:"code"`
	Error        string   `json:"error,omitempty"`
}

// RenameInput moves one directory entry between directories that may live on
// different devices
type RenameInput struct {
	SrcDevice string
	SrcDir    string
	DstDevice string
	DstDir    string
	Name      string
	// NewName is the name in the target directory; empty keeps Name
	NewName string
}
