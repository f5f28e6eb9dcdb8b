package abi

import (
	"wafer/common"
	"wafer/vm"
)

// SetupUserStack builds the process-entry argv layout: strings pushed
// in reverse (with NUL terminators), rsp aligned down to 8 bytes, an
// argv[argc]=NULL sentinel, pointers in reverse order, then a NULL
// return address. It returns the final rsp and the address of
// argv[0]'s pointer slot (rsi).
func SetupUserStack(as *vm.AddressSpace, argv []string) (rsp, argvAddr common.Va_t, errt common.Err_t) {
	sp := vm.UserStack

	addrs := make([]common.Va_t, len(argv))
	for i := len(argv) - 1; i >= 0; i-- {
		s := argv[i]
		n := common.Va_t(len(s) + 1)
		sp -= n
		addrs[i] = sp
	}

	sp = common.Va_t(uintptr(sp) &^ 7)

	sentinel := make([]byte, 8) // argv[argc] = NULL
	sp -= 8
	argvEnd := sp

	ptrBlock := make([]byte, 8*len(argv))
	for i := len(argv) - 1; i >= 0; i-- {
		sp -= 8
		putU64(ptrBlock[i*8:i*8+8], uint64(addrs[i]))
	}
	argv0 := sp

	sp -= 8 // NULL return address

	low := sp
	if errt := as.GrowStackTo(low); errt != 0 {
		return 0, 0, errt
	}
	if errt := as.ClaimRange(low, vm.UserStack-1); errt != 0 {
		return 0, 0, errt
	}

	for i, s := range argv {
		if errt := as.WriteBytes(addrs[i], append([]byte(s), 0)); errt != 0 {
			return 0, 0, errt
		}
	}
	if errt := as.WriteBytes(argvEnd, sentinel); errt != 0 {
		return 0, 0, errt
	}
	if errt := as.WriteBytes(argv0, ptrBlock); errt != 0 {
		return 0, 0, errt
	}
	if errt := as.WriteBytes(sp, make([]byte, 8)); errt != 0 {
		return 0, 0, errt
	}

	return sp, argv0, 0
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
