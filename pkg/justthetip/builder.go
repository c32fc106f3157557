package justthetip

import (
	"github.com/fortiblox/justthetip/internal/types"
	"github.com/fortiblox/justthetip/pkg/svm"
)

func newInstruction(programID types.Pubkey, ix Instruction, metas []svm.AccountMeta) (svm.Instruction, error) {
	data, err := EncodeInstruction(ix)
	if err != nil {
		return svm.Instruction{}, err
	}
	return svm.Instruction{ProgramID: programID, Accounts: metas, Data: data}, nil
}

// NewInitializeUserInstruction registers userID under authority.
func NewInitializeUserInstruction(programID, authority types.Pubkey, userID string) (svm.Instruction, error) {
	user, err := UserAddress(programID, userID)
	if err != nil {
		return svm.Instruction{}, err
	}
	return newInstruction(programID, InitializeUser{UserID: userID}, []svm.AccountMeta{
		svm.NewAccountMeta(user.Key, false, true),
		svm.NewAccountMeta(authority, true, true),
		svm.NewAccountMeta(types.SystemProgramAddr, false, false),
	})
}

// NewCreateTipInstruction records a tip in the keypair account tip. The
// sender must have registered senderUserID.
func NewCreateTipInstruction(programID, tip, sender types.Pubkey, senderUserID string, recipient types.Pubkey, amount uint64) (svm.Instruction, error) {
	user, err := UserAddress(programID, senderUserID)
	if err != nil {
		return svm.Instruction{}, err
	}
	return newInstruction(programID, CreateTip{Amount: amount, Recipient: recipient}, []svm.AccountMeta{
		svm.NewAccountMeta(tip, true, true),
		svm.NewAccountMeta(sender, true, true),
		svm.NewAccountMeta(user.Key, false, false),
		svm.NewAccountMeta(types.SystemProgramAddr, false, false),
	})
}

// NewExecuteTipInstruction pays the tip without touching the registry.
func NewExecuteTipInstruction(programID, tip, sender, recipient types.Pubkey) (svm.Instruction, error) {
	return newInstruction(programID, ExecuteTip{TipID: tip}, executeTipMetas(tip, sender, recipient))
}

// NewExecuteTipWithRegistryInstruction pays the tip and credits both users.
func NewExecuteTipWithRegistryInstruction(programID, tip, sender, recipient types.Pubkey, senderUserID, recipientUserID string) (svm.Instruction, error) {
	senderUser, err := UserAddress(programID, senderUserID)
	if err != nil {
		return svm.Instruction{}, err
	}
	recipientUser, err := UserAddress(programID, recipientUserID)
	if err != nil {
		return svm.Instruction{}, err
	}
	metas := append(executeTipMetas(tip, sender, recipient),
		svm.NewAccountMeta(senderUser.Key, false, true),
		svm.NewAccountMeta(recipientUser.Key, false, true),
	)
	return newInstruction(programID, ExecuteTip{TipID: tip}, metas)
}

func executeTipMetas(tip, sender, recipient types.Pubkey) []svm.AccountMeta {
	return []svm.AccountMeta{
		svm.NewAccountMeta(tip, false, true),
		svm.NewAccountMeta(sender, true, true),
		svm.NewAccountMeta(recipient, false, true),
		svm.NewAccountMeta(types.SystemProgramAddr, false, false),
	}
}

// NewCancelTipInstruction closes the tip back into its sender.
func NewCancelTipInstruction(programID, tip, sender types.Pubkey) (svm.Instruction, error) {
	return newInstruction(programID, CancelTip{TipID: tip}, []svm.AccountMeta{
		svm.NewAccountMeta(tip, false, true),
		svm.NewAccountMeta(sender, true, true),
	})
}

// NewCollectFundsInstruction moves amount from sender into the airdrop pool.
func NewCollectFundsInstruction(programID, sender types.Pubkey, airdropID [32]byte, amount uint64) (svm.Instruction, error) {
	escrow, err := EscrowAddress(programID, airdropID)
	if err != nil {
		return svm.Instruction{}, err
	}
	return newInstruction(programID, CollectFunds{TotalAmount: amount, AirdropID: airdropID}, []svm.AccountMeta{
		svm.NewAccountMeta(escrow.Key, false, true),
		svm.NewAccountMeta(sender, true, true),
		svm.NewAccountMeta(types.SystemProgramAddr, false, false),
	})
}

// NewDistributeAirdropInstruction pays out and closes the airdrop pool.
func NewDistributeAirdropInstruction(programID, sender types.Pubkey, airdropID [32]byte, recipients []AirdropRecipient, feeWallet types.Pubkey, feePercentage uint8) (svm.Instruction, error) {
	escrow, err := EscrowAddress(programID, airdropID)
	if err != nil {
		return svm.Instruction{}, err
	}
	metas := []svm.AccountMeta{
		svm.NewAccountMeta(escrow.Key, false, true),
		svm.NewAccountMeta(sender, true, true),
		svm.NewAccountMeta(feeWallet, false, true),
		svm.NewAccountMeta(types.SystemProgramAddr, false, false),
	}
	for _, r := range recipients {
		metas = append(metas, svm.NewAccountMeta(r.Recipient, false, true))
	}
	return newInstruction(programID, DistributeAirdrop{
		AirdropID:     airdropID,
		Recipients:    recipients,
		FeeWallet:     feeWallet,
		FeePercentage: feePercentage,
	}, metas)
}

// NewRefundEscrowInstruction returns the airdrop pool to its creator.
func NewRefundEscrowInstruction(programID, sender types.Pubkey, airdropID [32]byte) (svm.Instruction, error) {
	escrow, err := EscrowAddress(programID, airdropID)
	if err != nil {
		return svm.Instruction{}, err
	}
	return newInstruction(programID, RefundEscrow{AirdropID: airdropID}, []svm.AccountMeta{
		svm.NewAccountMeta(escrow.Key, false, true),
		svm.NewAccountMeta(sender, true, true),
		svm.NewAccountMeta(types.SystemProgramAddr, false, false),
	})
}

// NewClaimAirdropInstruction withdraws amount from the pool to recipient.
func NewClaimAirdropInstruction(programID, recipient types.Pubkey, airdropID [32]byte, amount uint64) (svm.Instruction, error) {
	escrow, err := EscrowAddress(programID, airdropID)
	if err != nil {
		return svm.Instruction{}, err
	}
	return newInstruction(programID, ClaimAirdrop{AirdropID: airdropID, Recipient: recipient, Amount: amount}, []svm.AccountMeta{
		svm.NewAccountMeta(escrow.Key, false, true),
		svm.NewAccountMeta(recipient, true, true),
		svm.NewAccountMeta(types.SystemProgramAddr, false, false),
	})
}
