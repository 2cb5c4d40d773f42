package entity

// Credential status constants
const (
	CredentialStatusConnected    = "connected"
	CredentialStatusDisconnected = "disconnected"
	CredentialStatusRevoked      = "revoked"
)

// Download status constants
const (
	DownloadStatusPending         = "pending"
	DownloadStatusDownloading     = "downloading"
	DownloadStatusSuccess         = "success"
	DownloadStatusFailedPermanent = "failed_permanent"
	DownloadStatusExpired         = "expired"
)

// Pipeline stage constants
const (
	StageNormalize          = "normalize"
	StageResolveCredentials = "resolve_credentials"
	StageExtract            = "extract"
	StageRecordMessage      = "record_message"
	StageDownload           = "download"
	StageReconcile          = "reconcile"
	StageDone               = "done"
	StageSkipped            = "skipped"
)
