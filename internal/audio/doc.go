// Package audio turns uploaded audio files into mono float32 waveforms at
// 16 kHz. WAV input is decoded in process; every other accepted container
// goes through ffmpeg. Uploads are staged in a scoped temporary file that
// is removed on every path.
package audio
