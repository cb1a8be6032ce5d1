package constants

// Session end reasons recorded in the archive
const (
	EndReasonClient   = "CLIENT_REQUEST"
	EndReasonExpired  = "INACTIVITY_EXPIRED"
	EndReasonNoRebind = "REASSIGNMENT_FAILED"
)
