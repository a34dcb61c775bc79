package state

import (
	"github.com/ethereum/go-ethereum/common"
)

var (
	balancePrefix   = []byte("balance/")
	supplyPrefix    = []byte("supply/")
	allowancePrefix = []byte("allowance/")
	rolePrefix      = []byte("role/")
)

func balanceKey(unit string, addr common.Address) []byte {
	buf := make([]byte, 0, len(balancePrefix)+len(unit)+1+common.AddressLength)
	buf = append(buf, balancePrefix...)
	buf = append(buf, unit...)
	buf = append(buf, '/')
	return append(buf, addr.Bytes()...)
}

func supplyKey(unit string) []byte {
	buf := make([]byte, 0, len(supplyPrefix)+len(unit))
	buf = append(buf, supplyPrefix...)
	return append(buf, unit...)
}

func allowanceKey(unit string, owner, spender common.Address) []byte {
	buf := make([]byte, 0, len(allowancePrefix)+len(unit)+2+2*common.AddressLength)
	buf = append(buf, allowancePrefix...)
	buf = append(buf, unit...)
	buf = append(buf, '/')
	buf = append(buf, owner.Bytes()...)
	buf = append(buf, '/')
	return append(buf, spender.Bytes()...)
}

func roleKey(role string) []byte {
	buf := make([]byte, 0, len(rolePrefix)+len(role))
	buf = append(buf, rolePrefix...)
	return append(buf, role...)
}
