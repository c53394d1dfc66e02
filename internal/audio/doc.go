// Package audio normalizes raw PCM into the float representation the
// recognizer consumes: byte decoding per bit depth, band-limited resampling
// to the recognizer rate and channel downmixing.
package audio
