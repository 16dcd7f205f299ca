// Package label provides target addressing for the Smelt evaluation engine.
// A target label names one build target (cell//package:name); a providers
// label extends it with an optional sub-target path or legacy flavor suffix;
// configured forms pair a label with the configuration it was analysed under.
// Labels are immutable value types; target labels are comparable and usable
// as map keys.
package label
