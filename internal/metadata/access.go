package metadata

const (
	ResourceFunction = "function"

	ActionExecute = "execute"
	ActionAll     = "*"
)

// Client is an already-authenticated API consumer.
type Client struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Active    bool   `json:"active"`
	RateLimit int    `json:"rate_limit,omitempty"`

	// SecretHash is the bcrypt hash of the client secret exchanged for
	// bearer tokens. Empty disables the exchange for this client.
	SecretHash string `json:"secret_hash,omitempty"`
}

type Role struct {
	ID          string       `json:"id"`
	Name        string       `json:"name,omitempty"`
	Permissions []Permission `json:"permissions,omitempty"`
}

// Permission grants Action on a resource. A nil ResourceID applies to every
// resource of ResourceType.
type Permission struct {
	ResourceType string  `json:"resource_type"`
	ResourceID   *string `json:"resource_id,omitempty"`
	Action       string  `json:"action"`
}

func (p Permission) IsWildcard() bool {
	return p.ResourceID == nil
}

// FunctionPermission is an explicit allow or deny for one client on one
// function. It overrides anything the client's roles grant.
type FunctionPermission struct {
	ClientID   string `json:"client_id"`
	FunctionID string `json:"function_id"`
	Allowed    bool   `json:"allowed"`
}

type ClientRole struct {
	ClientID string `json:"client_id"`
	RoleID   string `json:"role_id"`
}
