package naming

import (
	"fmt"
	"strconv"
	"strings"
)

// Name is a registered node name with its generation. Node names are written
// "<name>_<generation>"; a name without a numeric suffix is generation 0.
type Name struct {
	Name       string
	Generation int
}

// Parse splits a node name into its base name and generation.
func Parse(s string) Name {
	i := strings.LastIndexByte(s, '_')
	if i <= 0 || i == len(s)-1 {
		return Name{Name: s}
	}
	gen, err := strconv.Atoi(s[i+1:])
	if err != nil || gen < 0 || s[i+1] == '+' || s[i+1] == '-' {
		return Name{Name: s}
	}
	return Name{Name: s[:i], Generation: gen}
}

// String returns the canonical spelling, always with the generation suffix.
func (n Name) String() string {
	return fmt.Sprintf("%s_%d", n.Name, n.Generation)
}

// keys returns every spelling the name is cached under. Generation 0 is also
// reachable by its bare name.
func (n Name) keys() []string {
	if n.Generation == 0 {
		return []string{n.String(), n.Name}
	}
	return []string{n.String()}
}
