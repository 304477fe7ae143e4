package upload

// Policy configures how a Controller admits uploads into its Store.
type Policy struct {
	// Name labels the store in logs, traces and responses ("document", "audio").
	Name string
	// MaxSizeBytes is the size ceiling. Zero disables every size check.
	MaxSizeBytes int64
	// MaxCount is the capacity quota. Zero means unbounded.
	MaxCount int
	// RejectDuplicates answers 409 when the name is already stored.
	RejectDuplicates bool
	// EnforceStreaming counts body bytes while they stream instead of trusting
	// only the declared Content-Length.
	EnforceStreaming bool
	// ClearStaleOnConflict removes an existing blob when an exclusive create
	// collides with it, so that the client's retry succeeds.
	ClearStaleOnConflict bool

	// TooLargeText is the 413 response body.
	TooLargeText string
	// FailureText is the 500 response body.
	FailureText string
}

// DocumentPolicy is used for /files: streamed size enforcement, a capacity
// quota with oldest-first eviction, and duplicate rejection.
func DocumentPolicy(maxSizeBytes int64, maxCount int) Policy {
	return Policy{
		Name:             "document",
		MaxSizeBytes:     maxSizeBytes,
		MaxCount:         maxCount,
		RejectDuplicates: true,
		EnforceStreaming: true,
		TooLargeText:     "File too large",
		FailureText:      "Upload failed",
	}
}

// AudioPolicy is used for /audio. Size is checked against the declared
// Content-Length only: a body sent without a length is not capped while it
// streams. There is no count quota and no duplicate pre-check.
func AudioPolicy(maxSizeBytes int64) Policy {
	return Policy{
		Name:                 "audio",
		MaxSizeBytes:         maxSizeBytes,
		ClearStaleOnConflict: true,
		TooLargeText:         "Audio too large",
		FailureText:          "Audio upload failed",
	}
}
