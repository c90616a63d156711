package listing

import "strings"

// Detector evaluates a server type's autodetect condition against the
// connection's welcome banner and SYST reply.
type Detector interface {
	Detect(welcome, syst string) bool
}

// WelcomeContains matches when the welcome banner contains Substr
// (case-insensitive), e.g. distinguishing "FileZilla Server" banners.
type WelcomeContains struct{ Substr string }

func (d WelcomeContains) Detect(welcome, _ string) bool {
	return strings.Contains(strings.ToLower(welcome), strings.ToLower(d.Substr))
}

// SystContains matches against the SYST reply, e.g. "215 UNIX Type: L8".
type SystContains struct{ Substr string }

func (d SystContains) Detect(_, syst string) bool {
	return strings.Contains(strings.ToLower(syst), strings.ToLower(d.Substr))
}

// DetectAnd/DetectOr compose detectors.
type DetectAnd []Detector

func (d DetectAnd) Detect(welcome, syst string) bool {
	for _, sub := range d {
		if !sub.Detect(welcome, syst) {
			return false
		}
	}
	return true
}

type DetectOr []Detector

func (d DetectOr) Detect(welcome, syst string) bool {
	for _, sub := range d {
		if sub.Detect(welcome, syst) {
			return true
		}
	}
	return false
}

// Always is a Detector that always matches; ImportDetector returns it
// for an empty or "always" condition, and exportDetector writes it as
// "always".
type Always struct{}

func (Always) Detect(string, string) bool { return true }
