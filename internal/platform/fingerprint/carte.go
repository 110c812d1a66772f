package fingerprint

// CarteV0 is the original bearer token payload. Address is the bound client
// IP (4 or 16 bytes) or empty when the carte is not IP-bound. Times are Unix
// seconds.
type CarteV0 struct {
	_           struct{} `cbor:",toarray"`
	Type        ObjectType
	Version     int
	Address     []byte
	Beginning   int64
	Deadline    int64
	NodeName    string
	OwnerName   string
	ClientScope uint64
	AdminScope  uint64
}

func (f *CarteV0) ObjectType() ObjectType { return f.Type }
func (f *CarteV0) SchemaVersion() int     { return f.Version }

// CarteV1 adds a random salt so that two cartes with identical grants never
// share a signature.
type CarteV1 struct {
	_           struct{} `cbor:",toarray"`
	Type        ObjectType
	Version     int
	Address     []byte
	Beginning   int64
	Deadline    int64
	NodeName    string
	OwnerName   string
	ClientScope uint64
	AdminScope  uint64
	Salt        []byte
}

func (f *CarteV1) ObjectType() ObjectType { return f.Type }
func (f *CarteV1) SchemaVersion() int     { return f.Version }
