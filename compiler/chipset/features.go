package chipset

import (
	"github.com/Masterminds/semver/v3"
)

type (
	Feature int

	featureInfo struct {
		name string
		min  string
		rng  string

		minVer *semver.Version
		cons   *semver.Constraints
	}
)

const (
	// NoFeature gates nothing: every chipset has it.
	NoFeature Feature = iota

	BufferOps
	BufferAtomicFAddF32
	BufferAtomicPkAddF16
	BufferAtomicPkAddBF16
	BufferAtomicFMaxF32
	NativeBF16
	WaveReduceIntrinsic
	LDSBarrierWaitcnt
	SplitBarrier
	MFMA
	MFMABF16_1K
	MFMAF64
	MFMAI8x16

	numFeatures
)

var features = [numFeatures]featureInfo{
	NoFeature:             {name: "none", min: "0.0.0", rng: ">= 0.0.0"},
	BufferOps:             {name: "buffer-ops", min: "9.0.0", rng: ">= 9.0.0"},
	BufferAtomicFAddF32:   {name: "buffer-atomic-fadd-f32", min: "9.0.8", rng: ">= 9.0.8, < 10.0.0 || >= 11.0.0"},
	BufferAtomicPkAddF16:  {name: "buffer-atomic-pk-add-f16", min: "9.0.8", rng: ">= 9.0.8, < 10.0.0 || >= 12.0.0"},
	BufferAtomicPkAddBF16: {name: "buffer-atomic-pk-add-bf16", min: "9.5.0", rng: ">= 9.5.0, < 10.0.0 || >= 12.0.0"},
	BufferAtomicFMaxF32:   {name: "buffer-atomic-fmax-f32", min: "9.0.10", rng: ">= 9.0.10, < 10.0.0 || >= 10.3.0"},
	NativeBF16:            {name: "native-bf16", min: "9.5.0", rng: ">= 9.5.0, < 10.0.0 || >= 12.0.0"},
	WaveReduceIntrinsic:   {name: "wave-reduce-intrinsic", min: "9.0.10", rng: ">= 9.0.10"},
	LDSBarrierWaitcnt:     {name: "lds-barrier-waitcnt", min: "9.0.10", rng: ">= 9.0.10"},
	SplitBarrier:          {name: "split-barrier", min: "12.0.0", rng: ">= 12.0.0"},
	MFMA:                  {name: "mfma", min: "9.0.8", rng: ">= 9.0.8, < 10.0.0"},
	MFMABF16_1K:           {name: "mfma-bf16-1k", min: "9.0.10", rng: ">= 9.0.10, < 10.0.0"},
	MFMAF64:               {name: "mfma-f64", min: "9.0.10", rng: ">= 9.0.10, < 10.0.0"},
	MFMAI8x16:             {name: "mfma-i8-k16", min: "9.4.0", rng: ">= 9.4.0, < 10.0.0"},
}

func init() {
	for i := range features {
		f := &features[i]

		f.minVer = semver.MustParse(f.min)

		c, err := semver.NewConstraint(f.rng)
		if err != nil {
			panic(err)
		}

		f.cons = c
	}
}

func (f Feature) String() string {
	if f < 0 || f >= numFeatures {
		return "unknown"
	}

	return features[f].name
}

// AllFeatures lists every gating feature except NoFeature.
func AllFeatures() []Feature {
	l := make([]Feature, 0, numFeatures-1)

	for f := NoFeature + 1; f < numFeatures; f++ {
		l = append(l, f)
	}

	return l
}

// Has reports whether the chipset supports f.
func (c Chipset) Has(f Feature) bool {
	if f == NoFeature {
		return true
	}

	if f < 0 || f >= numFeatures {
		return false
	}

	return features[f].cons.Check(c.Version())
}

// MinimumVersion returns the oldest generation supporting f.
// Later generations may still lack it, see Has.
func MinimumVersion(f Feature) (*semver.Version, bool) {
	if f <= NoFeature || f >= numFeatures {
		return nil, false
	}

	return features[f].minVer, true
}

// Features lists the features c supports.
func (c Chipset) Features() []Feature {
	var l []Feature

	for _, f := range AllFeatures() {
		if c.Has(f) {
			l = append(l, f)
		}
	}

	return l
}

// Constraint returns the version range f is supported on.
func Constraint(f Feature) string {
	if f < 0 || f >= numFeatures {
		return ""
	}

	return features[f].rng
}
