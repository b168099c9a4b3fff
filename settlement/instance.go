// Package settlement implements the SettlementPoller of spec §4.5:
// reducing each ready bundle's instance array into the three 256-bit
// words the L1 contract's settlement call needs, then driving each
// bundle through unsubmitted -> submitted -> confirmed|failed.
package settlement

import (
	"encoding/hex"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/jupiterxyz/zkbridge/bridgedomain"
)

// reduceLimb packs four big-endian 64-bit limbs into one 256-bit word,
// the way spec §4.5 step 2 defines merkleRoot/newMerkleRoot/shaHash:
// (limbs[0]<<192)|(limbs[1]<<128)|(limbs[2]<<64)|limbs[3].
func reduceLimb(limbs []uint64) string {
	var v uint256.Int
	v.SetUint64(limbs[0])
	v.Lsh(&v, 64)
	v.Or(&v, uint256.NewInt(limbs[1]))
	v.Lsh(&v, 64)
	v.Or(&v, uint256.NewInt(limbs[2]))
	v.Lsh(&v, 64)
	v.Or(&v, uint256.NewInt(limbs[3]))

	b := v.Bytes32()
	return "0x" + hex.EncodeToString(b[:])
}

// ReducePayload extracts the SettlementPayload the L1 contract needs
// from a raw Bundle, applying the instance-array reduction of spec
// §4.5 steps 1-2. Returns an error if instArr is shorter than the 12
// limbs the three words require (spec §8 boundary: "instArr.length <
// 4/8/12").
func ReducePayload(b bridgedomain.Bundle) (bridgedomain.SettlementPayload, error) {
	if len(b.InstArr) < 12 {
		return bridgedomain.SettlementPayload{}, fmt.Errorf("settlement: instArr has %d limbs, need at least 12", len(b.InstArr))
	}

	return bridgedomain.SettlementPayload{
		TaskID:            b.TaskID,
		TxData:            b.TxData,
		ProofArr:          b.ProofArr,
		VerifyInstanceArr: b.VerifyInstanceArr,
		AuxArr:            b.AuxArr,
		InstArr:           b.InstArr,
		MerkleRoot:        reduceLimb(b.InstArr[0:4]),
		NewMerkleRoot:     reduceLimb(b.InstArr[4:8]),
		ShaHash:           reduceLimb(b.InstArr[8:12]),
	}, nil
}
