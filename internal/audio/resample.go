package audio

import "math"

// DownmixToMono averages interleaved channels into one.
func DownmixToMono(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}

	frames := len(interleaved) / channels
	mono := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += interleaved[i*channels+c]
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

const (
	// zero crossings of the sinc kernel on each side of the output sample
	resampleHalfTaps = 16
	// cutoff as a fraction of the lower Nyquist frequency
	resampleRolloff = 0.9
)

// Resample converts samples from one rate to another with a Hann-windowed
// sinc filter. When downsampling, the kernel is widened so content above
// the new Nyquist frequency is removed instead of folding back into the
// passband. The output length is round(len * to / from).
func Resample(samples []float32, from, to int) []float32 {
	if from == to || len(samples) == 0 || from <= 0 || to <= 0 {
		return samples
	}

	outLen := int((int64(len(samples))*int64(to) + int64(from)/2) / int64(from))
	if outLen == 0 {
		return []float32{}
	}

	g := gcd(from, to)
	up, down := to/g, from/g

	// cutoff in cycles per input sample, relative to the input Nyquist
	scale := resampleRolloff
	if to < from {
		scale *= float64(to) / float64(from)
	}
	width := float64(resampleHalfTaps) / scale
	reach := int(math.Ceil(width))
	taps := 2*reach + 1

	// one row of weights per fractional phase; tap j sits at offset j-reach
	table := make([]float64, up*taps)
	for phase := 0; phase < up; phase++ {
		frac := float64(phase) / float64(up)
		row := table[phase*taps : (phase+1)*taps]
		for j := range row {
			d := frac - float64(j-reach)
			row[j] = scale * sinc(scale*d) * hann(d/width)
		}
	}

	out := make([]float32, outLen)
	last := len(samples) - 1
	for i := range out {
		pos := int64(i) * int64(down)
		idx := int(pos / int64(up))
		row := table[int(pos%int64(up))*taps:]

		var acc, norm float64
		for j := 0; j < taps; j++ {
			k := idx + j - reach
			if k < 0 || k > last {
				continue
			}
			acc += row[j] * float64(samples[k])
			norm += row[j]
		}
		if norm != 0 {
			acc /= norm
		}
		out[i] = float32(acc)
	}

	return out
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

// hann is the Hann window on [-1, 1]
func hann(x float64) float64 {
	if x <= -1 || x >= 1 {
		return 0
	}
	return 0.5 * (1 + math.Cos(math.Pi*x))
}
