package registry

// Outcome is the registry's verdict on an upload.
type Outcome int

const (
	// OutcomeCreated means the registry stored the file as new.
	OutcomeCreated Outcome = iota
	// OutcomeDuplicate means the registry already had matching content.
	OutcomeDuplicate
)

// String returns the string representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// CheckResult is the answer to a fingerprint lookup.
type CheckResult struct {
	Exists           bool
	OriginalFilename string
}

// UploadRequest describes one file to send to the ingestion endpoint.
type UploadRequest struct {
	Path        string
	Filename    string
	ContentType string
	Credential  string
	Size        int64
}

// UploadResult is a definitive answer from the ingestion endpoint.
type UploadResult struct {
	Outcome          Outcome
	Status           int
	Message          string
	OriginalFilename string
	ExistingURL      string
	RemoteHash       string
}

// Raw API response types (internal)

type rawCheckResponse struct {
	Exists   bool   `json:"exists"`
	Filename string `json:"filename"`
}

// rawUploadResponse omits the body's "duplicate" flag: the status code alone
// decides between created and duplicate.
type rawUploadResponse struct {
	Message         string `json:"message"`
	FileName        string `json:"fileName"`
	FileHash        string `json:"fileHash"`
	ExistingFileURL string `json:"existingFileUrl"`
}
