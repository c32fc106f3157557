package system

import (
	"encoding/binary"

	"github.com/fortiblox/justthetip/internal/types"
	"github.com/fortiblox/justthetip/pkg/svm"
)

// CreateAccount returns a CreateAccount instruction funding to from from.
// Both accounts must sign.
func CreateAccount(from, to types.Pubkey, lamports, space uint64, owner types.Pubkey) svm.Instruction {
	data := make([]byte, 4+8+8+32)
	binary.LittleEndian.PutUint32(data[0:], InstructionCreateAccount)
	binary.LittleEndian.PutUint64(data[4:], lamports)
	binary.LittleEndian.PutUint64(data[12:], space)
	copy(data[20:], owner[:])

	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts: []svm.AccountMeta{
			svm.NewAccountMeta(from, true, true),
			svm.NewAccountMeta(to, true, true),
		},
		Data: data,
	}
}

// Transfer returns a Transfer instruction moving lamports from from to to.
func Transfer(from, to types.Pubkey, lamports uint64) svm.Instruction {
	data := make([]byte, 4+8)
	binary.LittleEndian.PutUint32(data[0:], InstructionTransfer)
	binary.LittleEndian.PutUint64(data[4:], lamports)

	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts: []svm.AccountMeta{
			svm.NewAccountMeta(from, true, true),
			svm.NewAccountMeta(to, false, true),
		},
		Data: data,
	}
}

// Assign returns an Assign instruction handing account to owner.
func Assign(account, owner types.Pubkey) svm.Instruction {
	data := make([]byte, 4+32)
	binary.LittleEndian.PutUint32(data[0:], InstructionAssign)
	copy(data[4:], owner[:])

	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts:  []svm.AccountMeta{svm.NewAccountMeta(account, true, true)},
		Data:      data,
	}
}

// Allocate returns an Allocate instruction sizing account to space bytes.
func Allocate(account types.Pubkey, space uint64) svm.Instruction {
	data := make([]byte, 4+8)
	binary.LittleEndian.PutUint32(data[0:], InstructionAllocate)
	binary.LittleEndian.PutUint64(data[4:], space)

	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts:  []svm.AccountMeta{svm.NewAccountMeta(account, true, true)},
		Data:      data,
	}
}
