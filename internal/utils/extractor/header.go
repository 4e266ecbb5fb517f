package extractor

const (
	UserID        = "x-user-id"
	RoleID        = "x-role-id"
	XForwardedFor = "x-forwarded-for"
	XRequestID    = "x_request_id"
)
