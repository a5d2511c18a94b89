package swap

import "fmt"

// Witness and weight constants.
const (
	// WitnessScaleFactor is the weight of one non-witness byte.
	WitnessScaleFactor = 4

	// MaxSignatureSize is the largest DER signature plus sighash byte.
	MaxSignatureSize = 72

	// DustThreshold is the smallest output value the assembler creates.
	DustThreshold = uint64(546)

	// Funding size estimates in vbytes (P2WPKH inputs, P2SH or P2WPKH outputs).
	fundingOverheadVSize = 11
	p2wpkhInputVSize     = 68
	outputVSize          = 32

	// maxDustRatioDenominator bounds fee / (value - fee) below 1/3.
	maxDustRatioDenominator = 3
)

// WitnessSizeEstimate returns the witness bytes of spending `inputs` outputs of
// one redeem script: per input a push-length byte, a maximum-size signature,
// the unlock element with its push-length byte, 4 bytes of sequence and the
// redeem script itself.
func WitnessSizeEstimate(scriptLen, unlockLen, inputs int) int {
	perInput := 1 + MaxSignatureSize + 1 + unlockLen + 4 + scriptLen
	return perInput * inputs
}

// EstimateFee returns the fee of a spend whose unsigned transaction weighs
// baseWeight, rounded up to whole vbytes.
func EstimateFee(baseWeight int64, scriptLen, unlockLen, inputs int, feeRate uint64) uint64 {
	weight := baseWeight + int64(WitnessSizeEstimate(scriptLen, unlockLen, inputs))
	vsize := (weight + WitnessScaleFactor - 1) / WitnessScaleFactor
	return uint64(vsize) * feeRate
}

// CheckDustRatio rejects fees that exceed totalValue or consume a third or
// more of what remains after the fee.
func CheckDustRatio(totalValue, fee uint64) error {
	if fee > totalValue {
		return fmt.Errorf("%w: fee %d, value %d", ErrFeeExceedsValue, fee, totalValue)
	}
	if fee*maxDustRatioDenominator >= totalValue-fee {
		return fmt.Errorf("%w: fee %d of value %d", ErrDustRatioExceeded, fee, totalValue)
	}
	return nil
}

// FundingFee estimates the fee of a funding transaction spending P2WPKH inputs.
func FundingFee(inputs, outputs int, feeRate uint64) uint64 {
	vsize := fundingOverheadVSize + inputs*p2wpkhInputVSize + outputs*outputVSize
	return uint64(vsize) * feeRate
}
