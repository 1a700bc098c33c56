package rwpool

// Role identifies which pool a connection belongs to.
type Role string

const (
	RolePrimary Role = "primary"
	RoleReplica Role = "replica"
)

func (r Role) String() string {
	if r == "" {
		return "unassigned"
	}
	return string(r)
}

// TxType is the access mode of an explicit transaction.
type TxType int

const (
	// ReadOnly transactions run on the replica pool.
	ReadOnly TxType = iota
	// ReadWrite transactions run on the primary pool.
	ReadWrite
)

func (t TxType) String() string {
	if t == ReadWrite {
		return "read write"
	}
	return "read only"
}

func (t TxType) role() Role {
	if t == ReadWrite {
		return RolePrimary
	}
	return RoleReplica
}
