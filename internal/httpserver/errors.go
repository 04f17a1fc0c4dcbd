package httpserver

const (
	ErrInvalidJSON   = "invalid json"
	ErrMissingID     = "missing id"
	ErrDependency    = "dependency error"
	ErrNotFound      = "not found"
	ErrConflict      = "channel already bound to another tenant"
	ErrEmptyBinding  = "empty channel binding"
	ErrNoInstance    = "tenant has no whatsapp instance"
	ErrInvalidToken  = "invalid token"
	ErrInvalidSecret = "invalid secret"
	ErrUnauthorized  = "unauthorized"
	ErrNoUpstream    = "whatsapp instance not found upstream"
)
