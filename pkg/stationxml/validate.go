package stationxml

import (
	"math"
	"regexp"
	"strconv"
)

var (
	networkCodePattern = regexp.MustCompile(`^[A-Za-z0-9]{1,2}$`)
	stationCodePattern = regexp.MustCompile(`^[A-Za-z0-9]{1,5}$`)
)

const (
	// firTolerance bounds |1 - sum(numerator coefficients)| for a FIR
	// stage.
	firTolerance = 0.02

	// gainTolerance bounds the relative difference between the declared
	// instrument sensitivity and the product of stage gains.
	gainTolerance = 0.001

	// logChannelCode names the data-less log channel exempt from
	// response checks.
	logChannelCode = "LOG"
)

// Validate applies the business rules to a parsed StationXML document
// and returns the first failing rule as a ValidationError.
func Validate(root *Element) error {
	if version := root.Attr("schemaVersion"); version != SupportedSchemaVersion {
		return errDetail(KindUnsupportedSchemaVersion, "%s", version)
	}

	for _, network := range root.All("Network") {
		if !networkCodePattern.MatchString(network.Attr("code")) {
			return errDetail(KindBadNetworkCode, "%s", network.Attr("code"))
		}

		for _, station := range network.All("Station") {
			if !stationCodePattern.MatchString(station.Attr("code")) {
				return errDetail(KindBadStationCode, "%s", station.Attr("code"))
			}

			channels := station.All("Channel")
			if len(channels) == 0 {
				return errKind(KindNoChannels)
			}

			for _, channel := range channels {
				if channel.Attr("code") == logChannelCode {
					continue
				}
				if err := validateChannel(channel); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func validateChannel(channel *Element) error {
	rate, err := channel.Float("SampleRate")
	if err != nil || rate == 0 || math.IsInf(rate, 0) || math.IsNaN(rate) {
		return errDetail(KindBadSampleRate, "%s", channel.ChildText("SampleRate"))
	}

	responses := channel.All("Response")
	switch {
	case len(responses) == 0:
		return errKind(KindMissingResponse)
	case len(responses) > 1:
		return errKind(KindDuplicateResponse)
	}
	response := responses[0]

	stages := response.All("Stage")
	if len(stages) == 0 {
		return errKind(KindNoStages)
	}

	for _, stage := range stages {
		if fir := stage.Child("FIR"); fir != nil {
			if err := validateFIR(fir); err != nil {
				return err
			}
		}
	}

	return validateGain(response, stages)
}

// validateFIR checks a FIR filter stage: units must be COUNTS on both
// sides and the numerator coefficients must sum to one within
// tolerance, doubling the sum for symmetric filters whose coefficient
// list holds only one half.
func validateFIR(fir *Element) error {
	inputUnits := unitsName(fir.Child("InputUnits"))
	outputUnits := unitsName(fir.Child("OutputUnits"))
	if inputUnits != "COUNTS" || outputUnits != "COUNTS" {
		return errDetail(KindBadFIRUnits, "%s -> %s", inputUnits, outputUnits)
	}

	var sum float64
	for _, coefficient := range fir.All("NumeratorCoefficient") {
		v, err := strconv.ParseFloat(coefficient.Text, 64)
		if err != nil {
			return errDetail(KindBadFIRCoefficients, "unparseable coefficient %q", coefficient.Text)
		}
		sum += v
	}

	if symmetry := fir.ChildText("Symmetry"); symmetry != "" && symmetry != "NONE" {
		sum *= 2
	}

	if delta := math.Abs(1 - sum); delta > firTolerance {
		return errDetail(KindBadFIRCoefficients, "%g", delta)
	}
	return nil
}

// validateGain compares the declared total instrument sensitivity
// against the product of per-stage gains.
func validateGain(response *Element, stages []*Element) error {
	sensitivity := response.Child("InstrumentSensitivity")
	if sensitivity == nil {
		return nil
	}
	declared, err := sensitivity.Float("Value")
	if err != nil || declared == 0 {
		return errDetail(KindGainMismatch, "bad sensitivity value %q", sensitivity.ChildText("Value"))
	}

	product := 1.0
	for _, stage := range stages {
		gain := stage.Child("StageGain")
		if gain == nil {
			continue
		}
		v, err := gain.Float("Value")
		if err != nil {
			return errDetail(KindGainMismatch, "bad stage gain %q", gain.ChildText("Value"))
		}
		product *= v
	}

	if math.Abs(product-declared)/math.Abs(declared) > gainTolerance {
		return errKind(KindGainMismatch)
	}
	return nil
}

func unitsName(units *Element) string {
	if units == nil {
		return ""
	}
	return units.ChildText("Name")
}
