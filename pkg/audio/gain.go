package audio

// ApplyGain scales every sample of pcm by volume and returns a new slice.
// A volume of 1 returns a copy; values above 1 amplify with saturation at
// the int16 limits. Negative volumes are treated as 0.
func ApplyGain(pcm []byte, volume float64) []byte {
	out := make([]byte, len(pcm)&^1)
	if volume <= 0 {
		return out
	}
	if volume == 1 {
		copy(out, pcm)
		return out
	}
	for i := range len(out) / 2 {
		v := float64(sample(pcm, i)) * volume
		switch {
		case v > 32767:
			v = 32767
		case v < -32768:
			v = -32768
		}
		putSample(out, i, int16(v))
	}
	return out
}
