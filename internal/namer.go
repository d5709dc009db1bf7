package internal

import (
	"fmt"

	"github.com/google/uuid"
)

// LinkNamer supplies successive unique link names for locally initiated
// links opened without an explicit name. A connection's default namer is
// a uuid-based sequence; tests install deterministic namers via
// Connection.SetLinkNamer.
type LinkNamer interface {
	LinkName() string
}

type uuidNamer struct {
	prefix string
	n      int
}

func newUUIDNamer() *uuidNamer {
	return &uuidNamer{prefix: uuid.NewString()}
}

func (u *uuidNamer) LinkName() string {
	name := fmt.Sprintf("%s-%d", u.prefix, u.n)
	u.n++
	return name
}
