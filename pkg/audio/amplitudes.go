package audio

// FrequencyBins is the number of spectrum bins carried by [Amplitudes].
const FrequencyBins = 256

// Amplitudes is a snapshot of a voice's output loudness, used for metering
// and visualisation.
type Amplitudes struct {
	// Left and Right are peak levels in [0, 1].
	Left  float32 `json:"left"`
	Right float32 `json:"right"`

	// Frequencies holds [FrequencyBins] normalised spectrum magnitudes, lowest
	// frequency first.
	Frequencies []float32 `json:"frequencies"`
}

// EmptyAmplitudes returns an all-zero snapshot with a full set of bins.
func EmptyAmplitudes() Amplitudes {
	return Amplitudes{Frequencies: make([]float32, FrequencyBins)}
}

// Maximum returns the louder of the two channel levels.
func (a Amplitudes) Maximum() float32 {
	return max(a.Left, a.Right)
}

// Average returns the mean of the two channel levels.
func (a Amplitudes) Average() float32 {
	return (a.Left + a.Right) / 2
}

// IsSilent reports whether both levels and all bins are zero.
func (a Amplitudes) IsSilent() bool {
	if a.Left != 0 || a.Right != 0 {
		return false
	}
	for _, f := range a.Frequencies {
		if f != 0 {
			return false
		}
	}
	return true
}
