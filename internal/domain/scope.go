package domain

// ClientScope is the bitmask of client permissions granted by a carte.
type ClientScope uint64

const (
	ClientScopeViewContent ClientScope = 1 << iota
	ClientScopeAddComment
	ClientScopeReact
	ClientScopeSearch
	ClientScopeSubscribe

	ClientScopeNone ClientScope = 0
	ClientScopeAll  ClientScope = ClientScopeViewContent | ClientScopeAddComment | ClientScopeReact | ClientScopeSearch | ClientScopeSubscribe
)

func (s ClientScope) Has(want ClientScope) bool { return s&want == want }

// AdminScope is the bitmask of administrative permissions granted by a carte.
type AdminScope uint64

const (
	AdminScopeVerify AdminScope = 1 << iota
	AdminScopeManageIndex
	AdminScopeViewStats

	AdminScopeNone AdminScope = 0
	AdminScopeAll  AdminScope = AdminScopeVerify | AdminScopeManageIndex | AdminScopeViewStats
)

func (s AdminScope) Has(want AdminScope) bool { return s&want == want }
