package metadata

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync/atomic"
	"time"
)

// Graph is the raw configuration as loaded from the config tables or a file.
type Graph struct {
	Functions           []*FunctionDefinition `json:"functions"`
	Clients             []Client              `json:"clients"`
	Roles               []Role                `json:"roles"`
	ClientRoles         []ClientRole          `json:"client_roles"`
	FunctionPermissions []FunctionPermission  `json:"function_permissions"`

	// Rejected holds functions whose stored definition could not be
	// decoded. They are reported like definitions that fail Prepare.
	Rejected []*DefinitionError `json:"-"`
}

type permKey struct {
	client   string
	function string
}

// Snapshot is one immutable, indexed version of the configuration graph.
// A request resolves a single snapshot and uses it throughout, so it never
// sees two configuration versions.
type Snapshot struct {
	Version  uint64
	LoadedAt time.Time

	// AccessStamp fingerprints the clients, roles, role assignments and
	// explicit permissions. Snapshots with equal stamps yield equal
	// authorization decisions, across processes too.
	AccessStamp string

	functions     map[string]*FunctionDefinition
	invalid       map[string]*DefinitionError
	clients       map[string]Client
	roles         map[string]Role
	clientRoles   map[string][]string
	roleClients   map[string][]string
	functionPerms map[permKey]FunctionPermission
	permClients   map[string][]string // function id -> clients with an explicit row
}

// NewSnapshot indexes g. Functions whose definitions fail Prepare are kept
// out of the callable set and reported by DefinitionError.
func NewSnapshot(g *Graph, version uint64) *Snapshot {
	s := &Snapshot{
		Version:       version,
		LoadedAt:      time.Now().UTC(),
		functions:     make(map[string]*FunctionDefinition),
		invalid:       make(map[string]*DefinitionError),
		clients:       make(map[string]Client),
		roles:         make(map[string]Role),
		clientRoles:   make(map[string][]string),
		roleClients:   make(map[string][]string),
		functionPerms: make(map[permKey]FunctionPermission),
		permClients:   make(map[string][]string),
	}
	if g == nil {
		s.AccessStamp = accessStamp(&Graph{})
		return s
	}
	s.AccessStamp = accessStamp(g)

	for _, derr := range g.Rejected {
		s.invalid[derr.Function] = derr
	}
	for _, fn := range g.Functions {
		if fn == nil {
			continue
		}
		if err := fn.Prepare(); err != nil {
			s.invalid[fn.ID] = err.(*DefinitionError)
			continue
		}
		s.functions[fn.ID] = fn
	}
	for _, c := range g.Clients {
		s.clients[c.ID] = c
	}
	for _, r := range g.Roles {
		s.roles[r.ID] = r
	}
	for _, cr := range g.ClientRoles {
		s.clientRoles[cr.ClientID] = append(s.clientRoles[cr.ClientID], cr.RoleID)
		s.roleClients[cr.RoleID] = append(s.roleClients[cr.RoleID], cr.ClientID)
	}
	for _, fp := range g.FunctionPermissions {
		key := permKey{client: fp.ClientID, function: fp.FunctionID}
		if _, seen := s.functionPerms[key]; !seen {
			s.permClients[fp.FunctionID] = append(s.permClients[fp.FunctionID], fp.ClientID)
		}
		s.functionPerms[key] = fp
	}
	return s
}

func accessStamp(g *Graph) string {
	b, err := json.Marshal(struct {
		Clients             []Client             `json:"clients"`
		Roles               []Role               `json:"roles"`
		ClientRoles         []ClientRole         `json:"client_roles"`
		FunctionPermissions []FunctionPermission `json:"function_permissions"`
	}{g.Clients, g.Roles, g.ClientRoles, g.FunctionPermissions})
	if err != nil {
		// unreachable for these plain structs
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:12])
}

// Function returns the callable definition with the given id.
func (s *Snapshot) Function(id string) (*FunctionDefinition, bool) {
	fn, ok := s.functions[id]
	return fn, ok
}

// DefinitionError returns why a declared function was rejected, or nil.
func (s *Snapshot) DefinitionError(id string) error {
	if err, ok := s.invalid[id]; ok {
		return err
	}
	return nil
}

// DefinitionErrors returns every rejected definition sorted by function id.
func (s *Snapshot) DefinitionErrors() []*DefinitionError {
	out := make([]*DefinitionError, 0, len(s.invalid))
	for _, err := range s.invalid {
		out = append(out, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Function < out[j].Function })
	return out
}

// Functions returns all callable functions sorted by id.
func (s *Snapshot) Functions() []*FunctionDefinition {
	out := make([]*FunctionDefinition, 0, len(s.functions))
	for _, fn := range s.functions {
		out = append(out, fn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Snapshot) Client(id string) (Client, bool) {
	c, ok := s.clients[id]
	return c, ok
}

// ClientRoles returns the roles held by a client.
func (s *Snapshot) ClientRoles(clientID string) []Role {
	ids := s.clientRoles[clientID]
	roles := make([]Role, 0, len(ids))
	for _, id := range ids {
		if r, ok := s.roles[id]; ok {
			roles = append(roles, r)
		}
	}
	return roles
}

// RoleClients is the role -> clients reverse index.
func (s *Snapshot) RoleClients(roleID string) []string {
	return append([]string(nil), s.roleClients[roleID]...)
}

func (s *Snapshot) FunctionPermission(clientID, functionID string) (FunctionPermission, bool) {
	fp, ok := s.functionPerms[permKey{client: clientID, function: functionID}]
	return fp, ok
}

// FunctionPermissionClients is the function -> clients reverse index over
// explicit permission rows.
func (s *Snapshot) FunctionPermissionClients(functionID string) []string {
	return append([]string(nil), s.permClients[functionID]...)
}

// Registry publishes the current Snapshot. Reloads swap the pointer; readers
// never lock.
type Registry struct {
	current atomic.Pointer[Snapshot]
	version atomic.Uint64
}

func NewRegistry() *Registry {
	r := &Registry{}
	r.current.Store(NewSnapshot(nil, 0))
	return r
}

// Snapshot returns the current configuration version.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Load builds a new snapshot from g and makes it current.
// Called during startup and after admin mutations.
func (r *Registry) Load(g *Graph) *Snapshot {
	s := NewSnapshot(g, r.version.Add(1))
	r.current.Store(s)
	return s
}
